package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// IsEmpty checks if a string is empty.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

func GetTraceID(c *gin.Context) (string, error) {
	traceID := c.GetString(pkg.TraceId)
	if IsEmpty(traceID) {
		return "", errors.New("trace id is empty")
	}
	return traceID, nil
}

// ParseStructEnv binds env vars to struct fields using a mapstructure tag
func ParseStructEnv(v *viper.Viper, cfg interface{}) error {
	t := reflect.ValueOf(cfg).Elem().Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		if err := v.BindEnv(tag); err != nil {
			return err
		}
	}
	return v.Unmarshal(cfg)
}

// FormatConfigErrors turns validator errors into one error naming every offending env key.
// Values are never logged because the config carries secrets.
func FormatConfigErrors(logger *zap.Logger, err error, cfg interface{}) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	t := reflect.TypeOf(cfg)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := fe.Field()
		if f, ok := t.FieldByName(fe.StructField()); ok {
			if tag := f.Tag.Get("mapstructure"); tag != "" {
				key = "APP_" + tag
			}
		}
		logger.Error("invalid_config", zap.String("key", key), zap.String("rule", fe.Tag()), zap.String("param", fe.Param()))
		msgs = append(msgs, fmt.Sprintf("%s failed %q", key, fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
