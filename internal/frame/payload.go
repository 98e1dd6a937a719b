package frame

import (
	"encoding/json"
	"fmt"
)

// Registration roles.
const (
	RoleOffer   = "offer"
	RoleRequest = "request"
)

// ServiceReg is the SERVICE_REG payload.
type ServiceReg struct {
	Role    string `json:"role"`
	Service string `json:"srv"`
	Node    string `json:"drone,omitempty"`
}

// VolReq is the VOL_REQ payload.
type VolReq struct {
	Service string `json:"srv"`
}

// Volunteer is one directory entry as carried in a VOL_LIST.
type Volunteer struct {
	UserID  string
	NodeID  string
	Service string
}

// VolList is one part of a VOL_LIST reply. Part 0 starts a new list; later
// parts of the same reply extend it.
type VolList struct {
	Service string      `json:"srv"`
	Part    int         `json:"p"`
	Entries [][2]string `json:"v"`
}

// Volunteers expands the compact entries of l.
func (l VolList) Volunteers() []Volunteer {
	out := make([]Volunteer, 0, len(l.Entries))
	for _, e := range l.Entries {
		out = append(out, Volunteer{UserID: e[0], NodeID: e[1], Service: l.Service})
	}
	return out
}

// Encode marshals a payload document and checks it fits in one frame.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frame: encode payload: %w", err)
	}
	if len(b) > MaxPayload {
		return nil, fmt.Errorf("frame: payload is %d bytes, limit %d", len(b), MaxPayload)
	}
	return b, nil
}

// DecodeServiceReg parses a SERVICE_REG payload. On malformed input it
// returns a request-role document with an empty service and the decode error.
func DecodeServiceReg(p []byte) (ServiceReg, error) {
	var r ServiceReg
	if err := json.Unmarshal(p, &r); err != nil {
		return ServiceReg{Role: RoleRequest}, fmt.Errorf("frame: decode SERVICE_REG: %w", err)
	}
	if r.Role == "" {
		r.Role = RoleRequest
	}
	return r, nil
}

// DecodeVolReq parses a VOL_REQ payload; malformed input yields an empty service.
func DecodeVolReq(p []byte) (VolReq, error) {
	var r VolReq
	if err := json.Unmarshal(p, &r); err != nil {
		return VolReq{}, fmt.Errorf("frame: decode VOL_REQ: %w", err)
	}
	return r, nil
}

// DecodeVolList parses one VOL_LIST part.
func DecodeVolList(p []byte) (VolList, error) {
	var l VolList
	if err := json.Unmarshal(p, &l); err != nil {
		return VolList{}, fmt.Errorf("frame: decode VOL_LIST: %w", err)
	}
	return l, nil
}

// PackVolList splits vols into as many VOL_LIST payloads as needed to keep
// each within MaxPayload, preserving order. An empty input still produces a
// single part so the receiver clears its cache.
func PackVolList(service string, vols []Volunteer) ([][]byte, error) {
	var parts [][]byte
	cur := VolList{Service: service, Entries: [][2]string{}}
	last, err := json.Marshal(cur)
	if err != nil {
		return nil, err
	}
	for _, v := range vols {
		next := cur
		next.Entries = append(append([][2]string(nil), cur.Entries...), [2]string{v.UserID, v.NodeID})
		b, err := json.Marshal(next)
		if err != nil {
			return nil, err
		}
		if len(b) <= MaxPayload {
			cur, last = next, b
			continue
		}
		if len(cur.Entries) == 0 {
			return nil, fmt.Errorf("frame: volunteer %q does not fit in a frame", v.UserID)
		}
		parts = append(parts, last)
		cur = VolList{Service: service, Part: len(parts), Entries: [][2]string{{v.UserID, v.NodeID}}}
		if last, err = json.Marshal(cur); err != nil {
			return nil, err
		}
		if len(last) > MaxPayload {
			return nil, fmt.Errorf("frame: volunteer %q does not fit in a frame", v.UserID)
		}
	}
	return append(parts, last), nil
}
