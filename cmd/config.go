// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/rtrans/pkg/rtrans"
)

var (
	configFile string
	configErr  error
)

// bindPersistentFlags makes every persistent flag of cmd readable through
// viper, so values may come from flags, RTRANS_* variables or a config file.
func bindPersistentFlags(cmd *cobra.Command) {
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RTRANS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("rtrans")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/rtrans")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configFile == "" {
			return
		}
		configErr = errors.Wrap(err, "read config")
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return configErr
	}

	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return errors.Wrap(err, "--log-level")
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	if viper.GetBool("log-json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if f := viper.ConfigFileUsed(); f != "" {
		logrus.WithField("file", f).Debug("Loaded config")
	}
	return nil
}

// parseAddress accepts decimal or 0x-prefixed hexadecimal 16-bit addresses
func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", s)
	}
	return uint16(v), nil
}

// configuredAddress returns the --address value, if one was given
func configuredAddress() (uint16, bool, error) {
	s := viper.GetString("address")
	if s == "" {
		return 0, false, nil
	}
	addr, err := parseAddress(s)
	if err != nil {
		return 0, false, err
	}
	if addr == rtrans.AddressBroadcast {
		return 0, false, errors.Errorf("address 0x%04X is the broadcast address", addr)
	}
	return addr, true, nil
}

// linkConfig builds the transport configuration from flags and config
func linkConfig(role rtrans.Role, address uint16) (rtrans.Config, error) {
	cfg := rtrans.DefaultConfig()
	cfg.Role = role
	cfg.Address = address
	cfg.PacketSize = viper.GetInt("packet-size")
	cfg.MaxSegments = viper.GetInt("max-segments")
	cfg.RetxLimit = viper.GetInt("retx-limit")
	cfg.RetxTimeout = rtrans.TicksFromDuration(viper.GetDuration("retx-timeout"))
	cfg.Logger = logrus.WithFields(logrus.Fields{"node": rtrans.FormatAddress(address), "role": role})

	if err := cfg.Validate(); err != nil {
		return rtrans.Config{}, err
	}
	return cfg, nil
}
