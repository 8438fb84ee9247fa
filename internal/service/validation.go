package service

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/recurrence"
)

func validateMessage(m *model.Message) error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Title,
			validation.Required.When(strings.TrimSpace(m.Body) == "").Error("title or body is required"),
			validation.Length(0, 200)),
		validation.Field(&m.Body, validation.Length(0, 2000)),
		validation.Field(&m.Actions, validation.Length(0, 5), validation.Each(validation.By(actionRule))),
	)
}

func actionRule(value interface{}) error {
	a, ok := value.(model.Action)
	if !ok {
		return errors.New("must be an action")
	}
	return validation.ValidateStruct(&a,
		validation.Field(&a.Label, validation.Required),
		validation.Field(&a.URL, validation.Required),
	)
}

func validateRequest(r *model.NotificationRequest) error {
	if err := validateMessage(&r.Message); err != nil {
		return err
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Target, validation.By(func(interface{}) error {
			_, err := model.TargetFor(r.Target, r.UserID, r.UserIDs)
			return err
		})),
	)
}

func validateStep(step *model.JourneyStep) error {
	if err := validateMessage(&model.Message{Title: step.Title, Body: step.Body, Actions: step.Actions}); err != nil {
		return err
	}
	return validation.ValidateStruct(step,
		validation.Field(&step.Segment, validation.By(func(interface{}) error {
			_, err := model.TargetFor(step.Segment, "", step.UserIDs)
			return err
		})),
		validation.Field(&step.Delay, validation.Min(0)),
		validation.Field(&step.DaysOfWeek,
			validation.Required.When(len(step.TimesOfDay) > 0).Error("is required with timesOfDay"),
			validation.Each(validation.By(weekdayRule))),
		validation.Field(&step.TimesOfDay,
			validation.Required.When(len(step.DaysOfWeek) > 0).Error("is required with daysOfWeek"),
			validation.Each(validation.By(clockRule))),
	)
}

func weekdayRule(value interface{}) error {
	s, _ := value.(string)
	_, err := recurrence.ParseWeekday(s)
	return err
}

func clockRule(value interface{}) error {
	s, _ := value.(string)
	_, err := recurrence.ParseClock(s)
	return err
}
