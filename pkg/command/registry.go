package command

// Descriptor is the static description of one command: which replies a PD
// may legally answer with, and any secure channel constraint. Descriptors
// are immutable and process-wide.
type Descriptor struct {
	// Code is the command code.
	Code Code

	// AllowedReplies lists the legal reply codes. Nak and Busy are legal
	// for every command and are listed explicitly.
	AllowedReplies []ReplyCode

	// SecureOnly marks commands that must travel inside an established
	// secure channel (key management).
	SecureOnly bool
}

// AllowsReply reports whether the reply code is legal for this command.
func (d *Descriptor) AllowsReply(reply ReplyCode) bool {
	for _, r := range d.AllowedReplies {
		if r == reply {
			return true
		}
	}
	return false
}

// registry is the process-wide command table. Never mutated after init.
var registry = map[Code]*Descriptor{
	Poll: {Code: Poll, AllowedReplies: []ReplyCode{
		Ack, Nak, Busy,
		LocalStatusReport, InputStatusReport, OutputStatusReport,
		ReaderStatusReport, CardRaw, CardFormatted, Keypad,
		ManufacturerReply,
	}},
	IDReport:     {Code: IDReport, AllowedReplies: []ReplyCode{PdIDReport, Nak, Busy}},
	CapReport:    {Code: CapReport, AllowedReplies: []ReplyCode{PdCapReport, Nak, Busy}},
	LocalStatus:  {Code: LocalStatus, AllowedReplies: []ReplyCode{LocalStatusReport, Nak, Busy}},
	InputStatus:  {Code: InputStatus, AllowedReplies: []ReplyCode{InputStatusReport, Nak, Busy}},
	OutputStatus: {Code: OutputStatus, AllowedReplies: []ReplyCode{OutputStatusReport, Nak, Busy}},
	ReaderStatus: {Code: ReaderStatus, AllowedReplies: []ReplyCode{ReaderStatusReport, Nak, Busy}},
	OutputSet:    {Code: OutputSet, AllowedReplies: []ReplyCode{Ack, OutputStatusReport, Nak, Busy}},
	LEDControl:   {Code: LEDControl, AllowedReplies: []ReplyCode{Ack, Nak, Busy}},
	BuzzerControl: {Code: BuzzerControl, AllowedReplies: []ReplyCode{
		Ack, Nak, Busy,
	}},
	TextOutput: {Code: TextOutput, AllowedReplies: []ReplyCode{Ack, Nak, Busy}},
	ComSet:     {Code: ComSet, AllowedReplies: []ReplyCode{ComReport, Nak, Busy}},
	KeySet: {Code: KeySet, AllowedReplies: []ReplyCode{Ack, Nak, Busy},
		SecureOnly: true},
	Challenge:    {Code: Challenge, AllowedReplies: []ReplyCode{CCrypt, Nak, Busy}},
	SCrypt:       {Code: SCrypt, AllowedReplies: []ReplyCode{RMACI, Nak, Busy}},
	ACURxSize:    {Code: ACURxSize, AllowedReplies: []ReplyCode{Ack, Nak, Busy}},
	FileTransfer: {Code: FileTransfer, AllowedReplies: []ReplyCode{FTStat, Nak, Busy}},
	Manufacturer: {Code: Manufacturer, AllowedReplies: []ReplyCode{Ack, ManufacturerReply, Nak, Busy}},
	Abort:        {Code: Abort, AllowedReplies: []ReplyCode{Ack, Nak, Busy}},
	KeepActive:   {Code: KeepActive, AllowedReplies: []ReplyCode{Ack, Nak, Busy}},
}

// knownReplies is the set of reply codes this implementation understands.
var knownReplies = map[ReplyCode]bool{
	Ack: true, Nak: true, PdIDReport: true, PdCapReport: true,
	LocalStatusReport: true, InputStatusReport: true,
	OutputStatusReport: true, ReaderStatusReport: true,
	CardRaw: true, CardFormatted: true, Keypad: true, ComReport: true,
	CCrypt: true, RMACI: true, Busy: true, FTStat: true,
	ManufacturerReply: true,
}

// Lookup returns the descriptor for a command code.
func Lookup(code Code) (*Descriptor, error) {
	d, ok := registry[code]
	if !ok {
		return nil, ErrUnknownCommand
	}
	return d, nil
}

// KnownReply reports whether the reply code is defined.
func KnownReply(reply ReplyCode) bool {
	return knownReplies[reply]
}

// ValidateReply checks that reply is a legal answer to cmd.
// An illegal pairing is a protocol violation by the PD.
func ValidateReply(cmd Code, reply ReplyCode) error {
	d, err := Lookup(cmd)
	if err != nil {
		return err
	}
	if !KnownReply(reply) {
		return ErrUnknownReply
	}
	if !d.AllowsReply(reply) {
		return ErrUnexpectedReply
	}
	return nil
}
