package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/osdp-go/osdp/pkg/command"
	"github.com/osdp-go/osdp/pkg/cp"
	"github.com/osdp-go/osdp/pkg/secure"
	"github.com/osdp-go/osdp/pkg/transport"
)

func newCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cp",
		Short: "Run a control panel polling the configured devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCPConfig(configPath)
			if err != nil {
				return err
			}
			return runCP(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "osdp-cp.yaml", "config file")
	return cmd
}

func runCP(cfg *CPConfig) error {
	line, err := transport.NewSerial(transport.SerialConfig{
		Device:   cfg.Device,
		BaudRate: cfg.Baud,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	defer line.Close()

	bus := cp.NewBus(cp.BusConfig{
		Callbacks: cp.Callbacks{
			OnDeviceOnline: func(addr uint8) {
				log.Printf("addr %d: online", addr)
			},
			OnDeviceOffline: func(addr uint8) {
				log.Printf("addr %d: offline", addr)
			},
			OnCardEvent: func(addr uint8, card command.CardRawPayload) {
				log.Printf("addr %d: card read reader=%d bits=%d data=%x",
					addr, card.Reader, card.BitCount, card.Data)
			},
			OnKeypadEvent: func(addr uint8, keys command.KeypadPayload) {
				log.Printf("addr %d: keypad reader=%d digits=%q",
					addr, keys.Reader, keys.Digits)
			},
			OnStatusReport: func(addr uint8, reply command.ReplyCode, payload []byte) {
				log.Printf("addr %d: status %v %x", addr, reply, payload)
			},
			OnSecureChannel: func(addr uint8, state secure.State) {
				log.Printf("addr %d: secure channel %v", addr, state)
			},
		},
	})

	for _, dev := range cfg.Devices {
		key, err := parseKey(dev.SCBK)
		if err != nil {
			return fmt.Errorf("addr %d: %w", dev.Address, err)
		}
		err = bus.AddDevice(cp.DeviceConfig{
			Address:      dev.Address,
			SCBK:         key,
			UseChecksum:  dev.Checksum,
			PollInterval: time.Duration(dev.PollIntervalMs) * time.Millisecond,
		})
		if err != nil {
			return fmt.Errorf("addr %d: %w", dev.Address, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Receive pump. The serial read deadline keeps the loop responsive
	// to shutdown.
	go func() {
		buf := make([]byte, 256)
		for ctx.Err() == nil {
			line.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
			n, err := line.Read(buf)
			if n > 0 {
				bus.Receive(time.Now(), buf[:n])
			}
			if err != nil && err != transport.ErrReadTimeout {
				log.Printf("read: %v", err)
				return
			}
		}
	}()

	// Transmit pump.
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, out := range bus.Tick(now) {
				if _, err := line.Write(out.Frame); err != nil {
					return fmt.Errorf("write: %w", err)
				}
			}
		}
	}
}
