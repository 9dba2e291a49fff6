package nbe

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frame layout of the controller's UDP protocol (unencrypted variant).
//
// Request:
//
//	app_id(12) serial(6) encryption(1) STX function(2) seq(2) pin(10)
//	timestamp(10) "pad "(4) size(3) payload EOT
//
// Response:
//
//	app_id(12) serial(6) STX function(2) seq(2) status(1) size(3) payload EOT
const (
	appIDLen       = 12
	serialLen      = 6
	pinLen         = 10
	timestampLen   = 10
	sizeLen        = 3
	maxPayloadLen  = 999
	frameSTX       = 0x02
	frameEOT       = 0x04
	encryptionNone = ' '
	requestPad     = "pad "

	responseHeaderLen = appIDLen + serialLen + 1 + 2 + 2 + 1 + sizeLen
)

// function is the two-digit request function code.
type function int

const (
	fnGetSetup       function = 1
	fnSetSetup       function = 2
	fnGetOperating   function = 4
	fnGetAdvanced    function = 5
	fnGetConsumption function = 6
)

// statusOK is the response status of a successful request.
const statusOK = 0

type request struct {
	appID     string
	serial    string
	pin       string
	function  function
	seq       int
	timestamp time.Time
	payload   string
}

func (r request) encode() ([]byte, error) {
	if len(r.appID) != appIDLen {
		return nil, fmt.Errorf("%w: app id must be %d bytes", ErrInvalidFrame, appIDLen)
	}
	if len(r.payload) > maxPayloadLen {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrInvalidFrame, len(r.payload), maxPayloadLen)
	}

	var b strings.Builder
	b.Grow(appIDLen + serialLen + pinLen + timestampLen + 32 + len(r.payload))

	b.WriteString(r.appID)
	b.WriteString(fixed(r.serial, serialLen, '0', true))
	b.WriteByte(encryptionNone)
	b.WriteByte(frameSTX)
	fmt.Fprintf(&b, "%02d%02d", int(r.function)%100, r.seq%100)
	b.WriteString(fixed(r.pin, pinLen, '0', true))
	fmt.Fprintf(&b, "%010d", r.timestamp.Unix()%1e10)
	b.WriteString(requestPad)
	fmt.Fprintf(&b, "%03d", len(r.payload))
	b.WriteString(r.payload)
	b.WriteByte(frameEOT)

	return []byte(b.String()), nil
}

type response struct {
	appID    string
	serial   string
	function function
	seq      int
	status   int
	payload  string
}

func decodeResponse(data []byte) (response, error) {
	if len(data) < responseHeaderLen+1 {
		return response{}, fmt.Errorf("%w: %d bytes is shorter than a header", ErrInvalidFrame, len(data))
	}

	s := string(data)
	pos := 0
	next := func(n int) string {
		field := s[pos : pos+n]
		pos += n
		return field
	}

	var resp response
	resp.appID = next(appIDLen)
	resp.serial = next(serialLen)
	if next(1)[0] != frameSTX {
		return response{}, fmt.Errorf("%w: missing start marker", ErrInvalidFrame)
	}

	fn, err := strconv.Atoi(next(2))
	if err != nil {
		return response{}, fmt.Errorf("%w: function: %w", ErrInvalidFrame, err)
	}
	resp.function = function(fn)

	if resp.seq, err = strconv.Atoi(next(2)); err != nil {
		return response{}, fmt.Errorf("%w: sequence: %w", ErrInvalidFrame, err)
	}
	if resp.status, err = strconv.Atoi(next(1)); err != nil {
		return response{}, fmt.Errorf("%w: status: %w", ErrInvalidFrame, err)
	}
	size, err := strconv.Atoi(next(sizeLen))
	if err != nil {
		return response{}, fmt.Errorf("%w: size: %w", ErrInvalidFrame, err)
	}

	if len(s)-pos != size+1 {
		return response{}, fmt.Errorf("%w: payload size %d does not match frame", ErrInvalidFrame, size)
	}
	resp.payload = next(size)
	if s[pos] != frameEOT {
		return response{}, fmt.Errorf("%w: missing end marker", ErrInvalidFrame)
	}

	return resp, nil
}

// items splits a response payload into "key=value" strings, prefixing each
// key with prefix.
func (r response) items(prefix string) []string {
	var out []string
	for _, item := range strings.Split(r.payload, ";") {
		item = strings.TrimSpace(item)
		if item == "" || !strings.Contains(item, "=") {
			continue
		}
		out = append(out, prefix+item)
	}
	return out
}

// fixed pads or truncates s to exactly n bytes. Padding goes on the left
// when left is set.
func fixed(s string, n int, pad byte, left bool) string {
	if len(s) >= n {
		return s[len(s)-n:]
	}
	padding := strings.Repeat(string(pad), n-len(s))
	if left {
		return padding + s
	}
	return s + padding
}

// groupRequest maps a logical query group to the function and payload that
// fetch it. Settings keys come back without their category, so the
// returned prefix restores it ("boiler.temp").
//
//	operating_data            -> all operating values
//	advanced_data             -> all advanced values
//	consumption_data/<name>   -> one consumption counter set
//	settings/<category>       -> every setting of one category
func groupRequest(group string) (fn function, payload, prefix string, err error) {
	name, arg, _ := strings.Cut(group, "/")
	switch name {
	case "operating_data":
		return fnGetOperating, "*", "", nil
	case "advanced_data":
		return fnGetAdvanced, "*", "", nil
	case "consumption_data":
		if arg == "" {
			break
		}
		return fnGetConsumption, arg, "", nil
	case "settings":
		if arg == "" {
			break
		}
		return fnGetSetup, arg + ".*", arg + ".", nil
	}
	return 0, "", "", fmt.Errorf("%w: %q", ErrUnknownGroup, group)
}
