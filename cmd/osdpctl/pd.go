package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/osdp-go/osdp/pkg/command"
	"github.com/osdp-go/osdp/pkg/pd"
	"github.com/osdp-go/osdp/pkg/transport"
)

func newPDCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "pd",
		Short: "Run a peripheral device answering a control panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPDConfig(configPath)
			if err != nil {
				return err
			}
			return runPD(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "osdp-pd.yaml", "config file")
	return cmd
}

func runPD(cfg *PDConfig) error {
	line, err := transport.NewSerial(transport.SerialConfig{
		Device:   cfg.Device,
		BaudRate: cfg.Baud,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	defer line.Close()

	key, err := parseKey(cfg.SCBK)
	if err != nil {
		return err
	}

	id := command.PdIDPayload{
		ModelNumber:   cfg.ModelNumber,
		Version:       1,
		SerialNumber:  cfg.SerialNumber,
		FirmwareMajor: 1,
	}
	if cfg.VendorCode != "" {
		oui, err := hex.DecodeString(cfg.VendorCode)
		if err != nil || len(oui) != 3 {
			return fmt.Errorf("vendor_code: want 6 hex digits")
		}
		copy(id.VendorCode[:], oui)
	}

	device, err := pd.NewPeripheral(pd.Config{
		Address:       cfg.Address,
		ID:            id,
		SCBK:          key,
		EnforceSecure: cfg.EnforceSecure,
		Handlers: pd.Handlers{
			OnOutput: func(out command.OutputSetPayload) error {
				for _, c := range out.Controls {
					log.Printf("output %d: code %d", c.OutputNumber, c.ControlCode)
				}
				return nil
			},
			OnLED: func(led command.LEDPayload) error {
				log.Printf("led reader=%d led=%d", led.Reader, led.LEDNumber)
				return nil
			},
			OnBuzzer: func(buz command.BuzzerPayload) error {
				log.Printf("buzzer reader=%d tone=%d", buz.Reader, buz.ToneCode)
				return nil
			},
			OnText: func(text command.TextPayload) error {
				log.Printf("text %q", text.Text)
				return nil
			},
			OnKeySet: func(newKey []byte) error {
				log.Printf("scbk installed: %x", newKey)
				return nil
			},
		},
	})
	if err != nil {
		return err
	}
	defer device.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("pd addr %d listening on %s", cfg.Address, cfg.Device)

	buf := make([]byte, 256)
	for ctx.Err() == nil {
		line.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		n, err := line.Read(buf)
		if n > 0 {
			for _, frame := range device.Feed(buf[:n]) {
				if _, err := line.Write(frame); err != nil {
					return fmt.Errorf("write: %w", err)
				}
			}
		}
		if err != nil && err != transport.ErrReadTimeout {
			return fmt.Errorf("read: %w", err)
		}
	}
	return nil
}
