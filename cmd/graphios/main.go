package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/graphios/graphios"
	"github.com/graphios/graphios/pkg/backends"
	"github.com/graphios/graphios/pkg/dispatch"
	"github.com/graphios/graphios/pkg/transport"
	"github.com/graphios/graphios/pkg/util"
)

const (
	// ParamVerbose enables verbose logging.
	ParamVerbose = "verbose"
	// ParamJSON makes logger log in JSON format.
	ParamJSON = "json"
	// ParamConfigPath provides file with configuration.
	ParamConfigPath = "config-path"
	// ParamVersion makes program output its version.
	ParamVersion = "version"
	// ParamInput lists files of JSON metric records, one per line.
	ParamInput = "input"
)

func main() {
	v, version, err := setupConfiguration()
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		logrus.Fatalf("Error while parsing configuration: %v", err)
	}
	if version {
		fmt.Printf("Version: %s - Commit: %s - Date: %s\n", Version, GitCommit, BuildDate)
		return
	}
	if err := run(v); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func run(v *viper.Viper) error {
	logger := logrus.StandardLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelOnInterrupt(ctx, cancel, logger)

	pool := transport.NewTransportPool(logger, v)
	names := util.GetStringList(v, graphios.ParamBackends)
	if len(names) == 0 {
		return errors.New("no backends configured")
	}
	bs, err := backends.InitBackends(names, v, logger, pool)
	if err != nil {
		return err
	}

	metrics, err := readInputs(util.GetStringList(v, ParamInput), os.Stdin)
	if err != nil {
		return err
	}
	logger.WithField("metrics", len(metrics)).Debug("read metrics")

	d := &dispatch.Dispatcher{
		Backends:    bs,
		Logger:      logger,
		Parallel:    v.GetBool(graphios.ParamParallel),
		SendTimeout: v.GetDuration(graphios.ParamSendTimeout),
	}
	res := d.Dispatch(ctx, metrics)
	logger.WithFields(logrus.Fields{
		"metrics": len(metrics),
		"sent":    res.Sent,
		"failed":  res.Failed(),
	}).Info("dispatch complete")

	if len(bs) > 0 && len(res.Failed()) == len(bs) {
		return fmt.Errorf("all backends failed: %v", res.Err())
	}
	return nil
}

func cancelOnInterrupt(ctx context.Context, f context.CancelFunc, logger logrus.FieldLogger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case <-ctx.Done():
		case sig := <-c:
			logger.WithField("signal", sig).Info("Signal received, cancelling")
			f()
		}
	}()
}

func setupConfiguration() (*viper.Viper, bool, error) {
	v := viper.New()
	defer setupLogger(v) // Apply logging configuration in case of early exit
	util.InitViper(v)

	var version bool

	cmd := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)

	cmd.BoolVar(&version, ParamVersion, false, "Print the version and exit")
	cmd.Bool(ParamVerbose, false, "Verbose")
	cmd.Bool(ParamJSON, false, "Log in JSON format")
	cmd.String(ParamConfigPath, "", "Path to the configuration file")
	cmd.StringSlice(ParamInput, nil, "Files with JSON metric records, one per line (default stdin, - for stdin)")

	graphios.AddFlags(cmd)

	cmd.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err) // Should never happen
		}
	})

	if err := cmd.Parse(os.Args[1:]); err != nil {
		return nil, false, err
	}

	configPath := v.GetString(ParamConfigPath)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, false, err
		}
	}

	return v, version, nil
}

func setupLogger(v *viper.Viper) {
	if v.GetBool(ParamVerbose) {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if v.GetBool(ParamJSON) {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
