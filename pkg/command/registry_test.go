package command

import (
	"errors"
	"testing"
)

func TestValidateReply(t *testing.T) {
	tests := []struct {
		name  string
		cmd   Code
		reply ReplyCode
		want  error
	}{
		{"poll ack", Poll, Ack, nil},
		{"poll card", Poll, CardRaw, nil},
		{"poll keypad", Poll, Keypad, nil},
		{"poll busy", Poll, Busy, nil},
		{"id report", IDReport, PdIDReport, nil},
		{"led ack", LEDControl, Ack, nil},
		{"any nak", TextOutput, Nak, nil},
		{"challenge ccrypt", Challenge, CCrypt, nil},
		{"scrypt rmac", SCrypt, RMACI, nil},
		{"filetransfer ftstat", FileTransfer, FTStat, nil},
		{"poll answered with ftstat", Poll, FTStat, ErrUnexpectedReply},
		{"id answered with cap", IDReport, PdCapReport, ErrUnexpectedReply},
		{"led answered with card", LEDControl, CardRaw, ErrUnexpectedReply},
		{"poll answered with rmac", Poll, RMACI, ErrUnexpectedReply},
		{"undefined reply code", Poll, ReplyCode(0xEE), ErrUnknownReply},
		{"undefined command", Code(0xFF), Ack, ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateReply(tt.cmd, tt.reply); !errors.Is(err, tt.want) {
				t.Errorf("ValidateReply(%v, %v) = %v, want %v", tt.cmd, tt.reply, err, tt.want)
			}
		})
	}
}

func TestLookupSecureOnly(t *testing.T) {
	d, err := Lookup(KeySet)
	if err != nil {
		t.Fatalf("Lookup(KeySet) error: %v", err)
	}
	if !d.SecureOnly {
		t.Error("KeySet is not marked SecureOnly")
	}

	d, err = Lookup(Poll)
	if err != nil {
		t.Fatalf("Lookup(Poll) error: %v", err)
	}
	if d.SecureOnly {
		t.Error("Poll is marked SecureOnly")
	}
}
