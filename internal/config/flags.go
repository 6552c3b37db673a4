package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagKeyAnnotation maps a command-line flag onto a nested config key.
const FlagKeyAnnotation = "apex_config_key"

// MapFlag makes flag name override key when it is bound with BindFlags.
func MapFlag(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, FlagKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

// BindFlags binds every flag of flags on v, either to its mapped key or to
// the flag name with dashes turned into underscores.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if keys := f.Annotations[FlagKeyAnnotation]; len(keys) > 0 {
			key = keys[0]
		}

		if bindErr := v.BindPFlag(key, f); bindErr != nil && err == nil {
			err = bindErr
		}
	})

	return err
}
