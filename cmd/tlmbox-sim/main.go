// Command tlmbox-sim boots the transport against the simulated
// coprocessor, waits for the ready event, sends a system command and an
// HCI reset, and prints what comes back.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xll-gen/tlmbox"
	"github.com/xll-gen/tlmbox/internal/cpu2"
	"github.com/xll-gen/tlmbox/ipcc"
	"github.com/xll-gen/tlmbox/shm"
)

const (
	opcodeShciC2BleInit = 0xFC66
	opcodeHciReset      = 0x0C03
)

func main() {
	var (
		configPath string
		shmName    string
		traces     int
		verbose    bool
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "TOML config file (defaults when empty).")
	flag.StringVar(&shmName, "shm", "", "Named shared memory object (heap memory when empty).")
	flag.IntVar(&traces, "traces", 2, "Trace records for the coprocessor to emit.")
	flag.BoolVar(&verbose, "v", false, "Debug logging.")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "Overall deadline.")
	flag.Parse()

	log, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	tlmbox.SetLogger(log.Named("cpu1"))

	if err := run(configPath, shmName, traces, timeout, log); err != nil {
		log.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func run(configPath, shmName string, traces int, timeout time.Duration, log *zap.Logger) error {
	cfg := tlmbox.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = tlmbox.LoadConfig(configPath); err != nil {
			return err
		}
	}
	layout, err := tlmbox.NewLayout(cfg)
	if err != nil {
		return err
	}

	var mem *shm.Region
	if shmName == "" {
		mem, err = layout.NewRegion()
	} else {
		mem, err = shm.MapRegion(shmName, layout.Base(), layout.Size(), true)
		defer shm.UnlinkShm(shmName)
	}
	if err != nil {
		return err
	}
	defer mem.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := ipcc.New()
	fw := cpu2.New(mem, p, cpu2.OptionsFor(layout))
	fwCtx, stopFw := context.WithCancel(ctx)
	defer stopFw()

	g, gctx := errgroup.WithContext(fwCtx)
	g.Go(func() error {
		return fw.Run(gctx)
	})
	g.Go(func() error {
		defer stopFw()
		mbox, err := tlmbox.Init(mem, p, cfg)
		if err != nil {
			return err
		}
		defer mbox.Close()
		return exercise(gctx, mbox, fw, traces, log)
	})
	return g.Wait()
}

func exercise(ctx context.Context, mbox *tlmbox.TlMbox, fw *cpu2.Firmware, traces int, log *zap.Logger) error {
	ready, err := mbox.Sys().WaitReady(ctx)
	if err != nil {
		return fmt.Errorf("wait ready: %w", err)
	}
	info := mbox.WirelessFwInfo()
	log.Info("coprocessor ready",
		zap.Stringer("running", ready),
		zap.String("fw", fmt.Sprintf("%d.%d.%d", info.VersionMajor(), info.VersionMinor(), info.VersionSub())),
		zap.Int("sram2a_kib", info.Sram2aSize()),
		zap.Int("flash_kib", info.FlashSize()))

	out, err := mbox.Sys().WriteAndGetResponse(ctx, opcodeShciC2BleInit, make([]byte, 8))
	if err != nil {
		return fmt.Errorf("ble init: %w", err)
	}
	log.Info("system command complete", zap.Uint16("opcode", out.Opcode), zap.String("return", hex.EncodeToString(out.Payload)))

	out, err = mbox.Ble().Command(ctx, opcodeHciReset, nil)
	if err != nil {
		return fmt.Errorf("hci reset: %w", err)
	}
	log.Info("hci reset complete", zap.Uint8("num_cmd", out.NumCmd), zap.String("return", hex.EncodeToString(out.Payload)))

	for i := 0; i < traces; i++ {
		if err := fw.PostTrace(ctx, []byte(fmt.Sprintf("trace %d", i))); err != nil {
			return err
		}
	}
	for i := 0; i < traces; i++ {
		evt, err := mbox.Traces().Recv(ctx)
		if err != nil {
			return err
		}
		p, err := evt.Payload()
		if err != nil {
			log.Warn("trace", zap.Error(err))
		} else {
			log.Info("trace", zap.ByteString("text", p))
		}
		evt.Close()
	}
	return nil
}
