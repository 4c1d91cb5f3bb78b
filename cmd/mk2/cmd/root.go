package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceMKII/internal/config"
	"github.com/OpenTraceLab/OpenTraceMKII/internal/logging"
	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii"
	"github.com/OpenTraceLab/OpenTraceMKII/pkg/mkii/transport"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger = zap.NewNop()

	// newSimDevice backs the simulator transport. Tests swap it to inspect
	// the device after a command has run.
	newSimDevice = mkii.NewSimDevice
)

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"transport":  "transport.kind",
	"port":       "transport.port",
	"baud":       "transport.baud",
	"timeout":    "transport.readTimeout",
	"usb-serial": "transport.usbSerial",
	"log-level":  "logging.level",
}

var rootCmd = &cobra.Command{
	Use:   "mk2",
	Short: "JTAG ICE mkII client",
	Long: `A command line client for the Atmel JTAG ICE mkII debug probe.

Talks the mkII framed protocol over RS-232 or USB to sign on, read and
write probe parameters, and peek or poke target SRAM.

Examples:
  mk2 interfaces                              # List serial ports and USB probes
  mk2 signon --port /dev/ttyUSB0              # Identify the probe
  mk2 peek 0x0100 16 --transport sim          # Dump SRAM from the simulator
  mk2 watch 0x0060 4 --config mk2.yaml        # Poll a RAM window for changes`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./mkii.yaml)")
	pf.StringP("transport", "t", "serial", "transport kind (serial, usb, simulator)")
	pf.StringP("port", "p", config.DefaultPort, "serial port")
	pf.IntP("baud", "b", config.DefaultBaud, "serial baud rate")
	pf.Duration("timeout", config.DefaultReadTimeout, "read timeout")
	pf.String("usb-serial", "", "USB probe serial number (if multiple probes)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}

// setup loads configuration with flag overrides and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	v := config.New()
	if err := bindFlags(v, cmd); err != nil {
		return err
	}

	c, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		c.Logging.Level = "debug"
	}

	cfg, logger = c, logging.New(c.Logging)
	return nil
}

// bindFlags binds only flags the user set, so config file values are not
// shadowed by flag defaults.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// openTransport opens the link selected by the configuration.
func openTransport() (mkii.Transport, error) {
	kind, err := transport.ParseKind(cfg.Transport.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case transport.KindSerial:
		t, err := transport.OpenSerial(transport.SerialConfig{
			Port:        cfg.Transport.Port,
			BaudRate:    cfg.Transport.Baud,
			ReadTimeout: cfg.Transport.ReadTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case transport.KindUSB:
		t, err := transport.OpenUSB(cfg.Transport.USBSerial, cfg.Transport.ReadTimeout, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		logger.Info("using simulator")
		return newSimDevice(), nil
	}
}

// connect opens the transport and signs on. The seqno is advanced after
// every successful round trip. With session.switchBaud set, the probe and
// line are moved to the new rate once signed on.
func connect(obs mkii.Observer) (*mkii.Session, mkii.SignOnInfo, error) {
	t, err := openTransport()
	if err != nil {
		return nil, mkii.SignOnInfo{}, err
	}

	opts := []mkii.ChannelOption{
		mkii.WithLogger(logger),
		mkii.WithInitialSeqno(cfg.Session.InitialSeqno),
	}
	if obs != nil {
		opts = append(opts, mkii.WithObserver(obs))
	}
	s := mkii.NewSession(t, opts...)

	reply, err := s.SignOn()
	if err != nil {
		s.Close()
		return nil, mkii.SignOnInfo{}, err
	}
	s.AdvanceSeqno()

	info, err := mkii.ParseSignOnInfo(reply.Data)
	if err != nil {
		s.Close()
		return nil, mkii.SignOnInfo{}, err
	}
	logger.Info("signed on",
		zap.String("device", info.DeviceName),
		zap.String("serial", info.SerialString()),
	)

	if baud := cfg.Session.SwitchBaud; baud != 0 {
		if err := s.SetBaudRate(baud); err != nil {
			s.Close()
			return nil, mkii.SignOnInfo{}, fmt.Errorf("switch baud: %w", err)
		}
		s.AdvanceSeqno()
		logger.Info("baud rate switched", zap.Int("baud", baud))
	}
	return s, info, nil
}

// closeSession signs off and releases the transport. Sign-off failures are
// logged rather than returned, the command result already stands.
func closeSession(s *mkii.Session) {
	if err := s.SignOff(); err != nil {
		logger.Warn("sign-off failed", zap.Error(err))
	} else {
		s.AdvanceSeqno()
	}
	if err := s.Close(); err != nil {
		logger.Warn("close transport", zap.Error(err))
	}
}
