package mt

// Parser parses bytes received.
type Parser struct {
	state   parseState
	frame   *Frame
	length  byte
	cmd0    byte
	fcs     byte
	recvLen int
}

type parseState int

const (
	stateSOF     parseState = iota // waiting for start of frame
	stateLen                       // waiting for length
	stateCmd0                      // waiting for type/subsystem
	stateCmd1                      // waiting for command id
	statePayload                   // receiving payload
	stateFCS                       // waiting for checksum
)

// ParseResult indicates the result after one parsing step.
// At most one of Frame and Err is set.
type ParseResult struct {
	Frame *Frame
	Err   error
}

// InFrame indicates the parser is in the middle of a frame.
func (p *Parser) InFrame() bool {
	return p.state != stateSOF
}

// Reset drops any partial frame.
func (p *Parser) Reset() {
	p.state, p.frame = stateSOF, nil
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	switch p.state {
	case stateSOF:
		if b == SOF {
			p.state = stateLen
		}
	case stateLen:
		if b > MaxPayloadLen {
			p.length, p.cmd0 = b, 0
			return p.drop(ErrLength, 0)
		}
		p.length, p.fcs = b, b
		p.state = stateCmd0
	case stateCmd0:
		p.cmd0 = b
		p.fcs ^= b
		p.state = stateCmd1
	case stateCmd1:
		p.fcs ^= b
		p.frame = &Frame{
			Type:      Type(p.cmd0 & typeMask),
			Subsystem: Subsystem(p.cmd0 & subsystemMask),
			Command:   b,
		}
		if p.length == 0 {
			p.state = stateFCS
			return
		}
		p.frame.Payload, p.recvLen = make([]byte, p.length), 0
		p.state = statePayload
	case statePayload:
		p.frame.Payload[p.recvLen] = b
		p.fcs ^= b
		if p.recvLen++; p.recvLen >= int(p.length) {
			p.state = stateFCS
		}
	case stateFCS:
		if b != p.fcs {
			return p.drop(ErrChecksum, p.frame.Command)
		}
		if !p.frame.Subsystem.IsValid() {
			return p.drop(ErrSubsystem, p.frame.Command)
		}
		pr.Frame, p.frame = p.frame, nil
		p.state = stateSOF
	}
	return
}

// Feed parses a chunk of bytes, collecting complete frames and dropped-frame errors.
func (p *Parser) Feed(data []byte) (frames []*Frame, errs []error) {
	for _, b := range data {
		pr := p.Parse(b)
		if pr.Frame != nil {
			frames = append(frames, pr.Frame)
		} else if pr.Err != nil {
			errs = append(errs, pr.Err)
		}
	}
	return
}

func (p *Parser) drop(err error, cmd1 byte) ParseResult {
	fe := &FramingError{Err: err, Cmd0: p.cmd0, Cmd1: cmd1, Len: p.length}
	p.Reset()
	return ParseResult{Err: fe}
}
