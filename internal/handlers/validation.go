package handlers

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var registerOnce sync.Once

// customTags are the binding tags used by request DTOs beyond the
// validator's built-ins.
var customTags = map[string]validator.Func{
	"objectid": func(fl validator.FieldLevel) bool {
		return primitive.IsValidObjectID(fl.Field().String())
	},
}

// RegisterValidators adds customTags to gin's validator. A DTO carrying an
// unregistered tag panics on bind, so failure here stops the process.
func RegisterValidators(logger *logrus.Logger) {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			logger.Fatalf("binding validator is %T, custom tags cannot be registered", binding.Validator.Engine())
		}
		if err := registerTags(v, customTags); err != nil {
			logger.Fatalf("register validators: %v", err)
		}
	})
}

func registerTags(v *validator.Validate, tags map[string]validator.Func) error {
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("tag %q: %w", tag, err)
		}
	}
	return nil
}

func mustObjectID(hex string) primitive.ObjectID {
	id, _ := primitive.ObjectIDFromHex(hex)
	return id
}
