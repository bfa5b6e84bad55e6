package terminal

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

// Payload caps. Longer sequences still pass through as data but produce no
// side event.
const (
	maxOSCLen = 64 * 1024
	maxDCSLen = 8 * 1024 * 1024
)

const (
	bel = 0x07
	can = 0x18
	sub = 0x1a
	esc = 0x1b
)

type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateOSC
	stateOSCEscape
	stateDCS
	stateDCSEscape
)

// Parser extracts OSC and DCS side channels from a PTY byte stream. It keeps
// its state between Feed calls so a sequence split across reads is still
// recognised. It is not safe for concurrent use.
type Parser struct {
	state    parserState
	payload  []byte
	overflow bool
}

// Feed scans chunk and returns its events in stream order. Data events cover
// every byte of chunk; a side event follows the data segment that ends with
// the byte terminating its sequence. Data slices alias chunk.
func (p *Parser) Feed(id schema.SessionID, chunk []byte) []Event {
	var events []Event
	start := 0
	for i, b := range chunk {
		side, ok := p.step(b)
		if !ok {
			continue
		}
		events = append(events, Event{Kind: EventData, SessionID: id, Data: chunk[start : i+1]})
		side.SessionID = id
		events = append(events, side)
		start = i + 1
	}
	if start < len(chunk) {
		events = append(events, Event{Kind: EventData, SessionID: id, Data: chunk[start:]})
	}
	return events
}

func (p *Parser) step(b byte) (Event, bool) {
	switch p.state {
	case stateGround:
		if b == esc {
			p.state = stateEscape
		}
	case stateEscape:
		switch b {
		case ']':
			p.begin(stateOSC)
		case 'P':
			p.begin(stateDCS)
		case esc:
		default:
			p.state = stateGround
		}
	case stateOSC:
		switch b {
		case bel:
			return p.finish(parseOSC)
		case esc:
			p.state = stateOSCEscape
		case can, sub:
			p.state = stateGround
		default:
			p.collect(b, maxOSCLen)
		}
	case stateOSCEscape:
		if b == '\\' {
			return p.finish(parseOSC)
		}
		p.state = stateEscape
		return p.step(b)
	case stateDCS:
		switch b {
		case esc:
			p.state = stateDCSEscape
		case can, sub:
			p.state = stateGround
		default:
			p.collect(b, maxDCSLen)
		}
	case stateDCSEscape:
		if b == '\\' {
			return p.finish(parseDCS)
		}
		p.state = stateEscape
		return p.step(b)
	}
	return Event{}, false
}

func (p *Parser) begin(s parserState) {
	p.state = s
	p.payload = p.payload[:0]
	p.overflow = false
}

func (p *Parser) collect(b byte, limit int) {
	if p.overflow {
		return
	}
	if len(p.payload) >= limit {
		p.overflow = true
		p.payload = nil
		return
	}
	p.payload = append(p.payload, b)
}

func (p *Parser) finish(parse func([]byte) (Event, bool)) (Event, bool) {
	p.state = stateGround
	if p.overflow {
		p.overflow = false
		return Event{}, false
	}
	return parse(p.payload)
}

func parseOSC(payload []byte) (Event, bool) {
	code, rest, _ := bytes.Cut(payload, []byte{';'})
	switch string(code) {
	case "0", "2":
		return Event{Kind: EventTitle, Title: strings.ToValidUTF8(string(rest), "�")}, true
	case "7":
		return parseCwd(string(rest))
	case "8":
		return parseHyperlink(string(rest))
	case "133":
		return parseShellMark(string(rest))
	}
	return Event{}, false
}

// parseCwd handles OSC 7 "file://host/path" reports.
func parseCwd(s string) (Event, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return Event{}, false
	}
	return Event{Kind: EventCwd, Cwd: u.Path}, true
}

// parseHyperlink handles OSC 8 "params;uri" where params is a colon
// separated key=value list.
func parseHyperlink(s string) (Event, bool) {
	params, uri, ok := strings.Cut(s, ";")
	if !ok {
		return Event{}, false
	}
	var link schema.Hyperlink
	link.URI = uri
	for _, kv := range strings.Split(params, ":") {
		if v, found := strings.CutPrefix(kv, "id="); found {
			link.ID = v
		}
	}
	return Event{Kind: EventHyperlink, Hyperlink: link}, true
}

// parseShellMark handles OSC 133 prompt marks: A, B, C and D[;exit].
func parseShellMark(s string) (Event, bool) {
	fields := strings.Split(s, ";")
	if len(fields[0]) == 0 {
		return Event{}, false
	}
	var ev schema.ShellIntegrationEvent
	switch fields[0][0] {
	case 'A':
		ev.Kind = schema.PromptStart
	case 'B':
		ev.Kind = schema.CommandStart
	case 'C':
		ev.Kind = schema.CommandExecuted
	case 'D':
		ev.Kind = schema.CommandFinished
		if len(fields) > 1 {
			if code, err := strconv.Atoi(fields[1]); err == nil {
				ev.ExitCode = &code
			}
		}
	default:
		return Event{}, false
	}
	return Event{Kind: EventShell, Shell: ev}, true
}

// parseDCS recognises sixel images: DCS [params] q <data> ST. The event
// carries the payload from the parameters through the end of the data.
func parseDCS(payload []byte) (Event, bool) {
	body := bytes.TrimLeft(payload, "0123456789;")
	if len(body) == 0 || body[0] != 'q' {
		return Event{}, false
	}
	return Event{Kind: EventSixel, Data: bytes.Clone(payload)}, true
}
