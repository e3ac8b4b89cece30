package provider

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Validator is implemented by typed configs that check their own fields.
type Validator interface {
	Validate() error
}

// Decode copies a free-form provider config into out. Bare-string configs
// only name a provider and leave out untouched.
func Decode(cfg any, out any) error {
	switch cfg.(type) {
	case nil, string:
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// validate runs v.Validate when the config implements Validator.
func validate(v any) error {
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}
