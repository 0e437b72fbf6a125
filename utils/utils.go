package utils

import (
	"fmt"

	"github.com/spf13/viper"
)

// MergeEnvFile merges a ".env" file from the working directory into v.
// The file is read with its own viper instance so its "env" config type
// never leaks into v's. A missing file is fine; a malformed one is not.
func MergeEnvFile(v *viper.Viper) error {
	env := viper.New()
	env.SetConfigName(".env")
	env.SetConfigType("env")
	env.AddConfigPath(".")

	if err := env.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("utils: merge env file: %w", err)
		}
		return nil
	}
	if err := v.MergeConfigMap(env.AllSettings()); err != nil {
		return fmt.Errorf("utils: merge env file: %w", err)
	}
	return nil
}
