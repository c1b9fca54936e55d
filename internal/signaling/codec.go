package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command is the value of the "command" field of a signaling envelope.
type Command string

const (
	CommandOffer           Command = "offer"
	CommandRemoteCandidate Command = "onicecandidate"
	CommandAnswer          Command = "OnSuccessAnswer"
	CommandLocalCandidate  Command = "OnIceCandidate"
)

var (
	ErrMissingCommand = errors.New("envelope has no command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrMalformed      = errors.New("malformed envelope")
)

// Message is one decoded signaling envelope.
type Message interface {
	Command() Command
}

// Offer is the client's SDP offer.
type Offer struct {
	SDP string
}

// RemoteCandidate is an ICE candidate gathered by the client.
type RemoteCandidate struct {
	SDPMid        string
	SDPMLineIndex uint16
	Candidate     string
}

// Answer is the broker's SDP answer.
type Answer struct {
	SDP string
}

// LocalCandidate is an ICE candidate gathered by the broker.
type LocalCandidate struct {
	SDPMid        string
	SDPMLineIndex uint16
	Candidate     string
}

func (Offer) Command() Command           { return CommandOffer }
func (RemoteCandidate) Command() Command { return CommandRemoteCandidate }
func (Answer) Command() Command          { return CommandAnswer }
func (LocalCandidate) Command() Command  { return CommandLocalCandidate }

type wireDescription struct {
	Type string  `json:"type,omitempty"`
	SDP  *string `json:"sdp"`
}

type wireCandidate struct {
	Candidate     *string `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// envelope covers every field of every command; which ones are required
// depends on the command.
type envelope struct {
	Command *Command `json:"command"`

	Desc      *wireDescription `json:"desc,omitempty"`
	Candidate *wireCandidate   `json:"candidate,omitempty"`

	SDP           *string `json:"sdp,omitempty"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// Decode parses one envelope. Errors wrap ErrMissingCommand,
// ErrUnknownCommand or ErrMalformed.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Command == nil || *env.Command == "" {
		return nil, ErrMissingCommand
	}

	switch cmd := *env.Command; cmd {
	case CommandOffer:
		if env.Desc == nil || env.Desc.SDP == nil || *env.Desc.SDP == "" {
			return nil, fmt.Errorf("%w: offer without desc.sdp", ErrMalformed)
		}
		if env.Desc.Type != "" && env.Desc.Type != "offer" {
			return nil, fmt.Errorf("%w: offer with desc.type=%q", ErrMalformed, env.Desc.Type)
		}
		return Offer{SDP: *env.Desc.SDP}, nil

	case CommandRemoteCandidate:
		c := env.Candidate
		if c == nil {
			return nil, fmt.Errorf("%w: onicecandidate without candidate", ErrMalformed)
		}
		if c.Candidate == nil || *c.Candidate == "" || c.SDPMid == nil || c.SDPMLineIndex == nil {
			return nil, fmt.Errorf("%w: onicecandidate needs candidate, sdpMid and sdpMLineIndex", ErrMalformed)
		}
		return RemoteCandidate{SDPMid: *c.SDPMid, SDPMLineIndex: *c.SDPMLineIndex, Candidate: *c.Candidate}, nil

	case CommandAnswer:
		if env.SDP == nil || *env.SDP == "" {
			return nil, fmt.Errorf("%w: answer without sdp", ErrMalformed)
		}
		return Answer{SDP: *env.SDP}, nil

	case CommandLocalCandidate:
		if env.SDP == nil || *env.SDP == "" || env.SDPMid == nil || env.SDPMLineIndex == nil {
			return nil, fmt.Errorf("%w: candidate needs sdp, sdp_mid and sdp_mline_index", ErrMalformed)
		}
		return LocalCandidate{SDPMid: *env.SDPMid, SDPMLineIndex: *env.SDPMLineIndex, Candidate: *env.SDP}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// Encode produces the wire envelope for m.
func Encode(m Message) ([]byte, error) {
	cmd := m.Command()
	env := envelope{Command: &cmd}

	switch m := m.(type) {
	case Offer:
		env.Desc = &wireDescription{Type: "offer", SDP: &m.SDP}
	case RemoteCandidate:
		env.Candidate = &wireCandidate{Candidate: &m.Candidate, SDPMid: &m.SDPMid, SDPMLineIndex: &m.SDPMLineIndex}
	case Answer:
		env.SDP = &m.SDP
	case LocalCandidate:
		env.SDP = &m.Candidate
		env.SDPMid = &m.SDPMid
		env.SDPMLineIndex = &m.SDPMLineIndex
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnknownCommand, m)
	}
	return json.Marshal(env)
}
