// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	stderrors "errors"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/errors"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. HOSTAUDIT_OUTPUT_DIR.
	EnvPrefix = "HOSTAUDIT"
	// FileName is the config file name searched in $HOME and the working directory.
	FileName = ".hostaudit"
)

// Keys shared by the config file, the environment and the CLI flags.
const (
	KeyOutputDir        = "output-dir"
	KeyParallelism      = "parallelism"
	KeyConnectRate      = "connect-rate"
	KeyUseCache         = "use-cache"
	KeyCollectFiles     = "collect-files"
	KeyExclude          = "exclude"
	KeySSHUser          = "ssh-user"
	KeySSHIdentity      = "ssh-identity"
	KeyPrivilegeWrapper = "privilege-wrapper"
	KeyCapTable         = "captable"
)

// Config holds the settings a collection run starts from.
type Config struct {
	OutputDir        string   `mapstructure:"output-dir" json:"output-dir" yaml:"output-dir"`
	Parallelism      int      `mapstructure:"parallelism" json:"parallelism" yaml:"parallelism"`
	ConnectRate      float64  `mapstructure:"connect-rate" json:"connect-rate" yaml:"connect-rate"`
	UseCache         bool     `mapstructure:"use-cache" json:"use-cache" yaml:"use-cache"`
	CollectFiles     bool     `mapstructure:"collect-files" json:"collect-files" yaml:"collect-files"`
	Exclude          []string `mapstructure:"exclude" json:"exclude,omitempty" yaml:"exclude,omitempty"`
	SSHUser          string   `mapstructure:"ssh-user" json:"ssh-user" yaml:"ssh-user"`
	SSHIdentity      string   `mapstructure:"ssh-identity" json:"ssh-identity,omitempty" yaml:"ssh-identity,omitempty"`
	PrivilegeWrapper string   `mapstructure:"privilege-wrapper" json:"privilege-wrapper" yaml:"privilege-wrapper"`
	CapTable         string   `mapstructure:"captable" json:"captable,omitempty" yaml:"captable,omitempty"`
}

// Load reads the configuration. An explicit path must exist; without one the
// file is looked up in $HOME and the working directory and is optional.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapWithContext(errors.ErrCodeScanner, "failed to read config file", err,
				map[string]any{"path": path})
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(FileName)

		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !stderrors.As(err, &nf) {
				return nil, errors.Wrap(errors.ErrCodeScanner, "failed to read config file", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeScanner, "invalid configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OutputDir:        defaults.DumpRoot,
		Parallelism:      defaults.Parallelism,
		ConnectRate:      defaults.ConnectRate,
		SSHUser:          defaults.SSHUser,
		PrivilegeWrapper: defaults.PrivilegeWrapper,
	}
}

// Validate checks the numeric settings.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New(errors.ErrCodeInvalidRequest, "output-dir must not be empty")
	}
	if c.Parallelism < 1 {
		return errors.Newf(errors.ErrCodeInvalidRequest, "parallelism must be at least 1, got %d", c.Parallelism)
	}
	if c.ConnectRate <= 0 {
		return errors.Newf(errors.ErrCodeInvalidRequest, "connect-rate must be positive, got %v", c.ConnectRate)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyOutputDir, d.OutputDir)
	v.SetDefault(KeyParallelism, d.Parallelism)
	v.SetDefault(KeyConnectRate, d.ConnectRate)
	v.SetDefault(KeyUseCache, false)
	v.SetDefault(KeyCollectFiles, false)
	v.SetDefault(KeyExclude, []string{})
	v.SetDefault(KeySSHUser, d.SSHUser)
	v.SetDefault(KeySSHIdentity, "")
	v.SetDefault(KeyPrivilegeWrapper, d.PrivilegeWrapper)
	v.SetDefault(KeyCapTable, "")
}
