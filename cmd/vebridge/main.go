// vebridge reads VE.Direct telemetry from serial port and publishes it to MQTT.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/alive/v2"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/internal/bridge"
	"github.com/temoto/vebridge/internal/config"
	"github.com/temoto/vebridge/internal/metrics"
	"github.com/temoto/vebridge/internal/tele"
	"github.com/temoto/vebridge/log2"
	"golang.org/x/sys/unix"
)

var BuildVersion string = "unknown" // set by ldflags -X

func main() {
	flagConfig := flag.String("config", config.DefaultPath, "HCL config file, optional when default")
	flagDebug := flag.Bool("debug", false, "debug log level")
	flag.Parse()

	log := log2.NewStderr(log2.LInfo)
	if sdnotify("STATUS=starting") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// we're under systemd or redirected, assume journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.Infof("vebridge version=%s", BuildVersion)

	configExplicit := false
	flag.Visit(func(f *flag.Flag) { configExplicit = configExplicit || f.Name == "config" })
	fs, err := config.NewOsFullReader(".")
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	cfg, err := config.Load(log, fs, config.ConfigSource{Name: *flagConfig, Optional: !configExplicit}, os.Getenv)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if cfg.LogDebug || *flagDebug {
		log.SetLevel(log2.LDebug)
	}
	tele.SetLogger(log.Prefixed("mqtt: "), cfg.Mqtt.LogDebug)

	m := metrics.New()
	log.SetErrorFunc(m.LogError)
	pub, err := tele.New(log, cfg.Mqtt, nil)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	log.Infof("%s status=%s", pub, cfg.Mqtt.StatusTopic)

	a := alive.NewAlive()
	b := bridge.New(a, log, bridge.OptionsFromConfig(cfg), uart.NewSerialUart(cfg.SerialReadTimeout()), pub, m)
	pub.SetStateHandler(b.MqttStateHandler)
	b.OnReady = func() {
		sdnotify(daemon.SdNotifyReady)
		log.Infof("init complete, running")
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err != nil {
		log.Errorf("systemd watchdog err=%v", err)
	} else if interval > 0 {
		b.SetWatchdog(interval/2, func() { sdnotify(daemon.SdNotifyWatchdog) })
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, log, cfg.Metrics.Listen); err != nil {
				log.Error(err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			log.Infof("signal=%v stopping", sig)
			sdnotify(daemon.SdNotifyStopping)
			a.Stop()
		case <-a.StopChan():
		}
	}()

	if err := b.Run(ctx); err != nil {
		log.Error(errors.Annotate(err, "bridge"))
	}
	a.Stop()
	a.Wait()
	log.Infof("bye")
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log2.NewStderr(log2.LError).Errorf("sdnotify: %v", errors.ErrorStack(err))
	}
	return ok
}
