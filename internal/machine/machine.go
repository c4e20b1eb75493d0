package machine

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a machine variant.
type Kind string

const (
	KindDesktop Kind = "desktop"
	KindServer  Kind = "server"
)

var (
	ErrUnknownKind = errors.New("unknown machine type")
	ErrInvalid     = errors.New("invalid machine")
)

// Machine is a requested compute resource. It is shared between the request
// engine, the build service and the transports.
//
// Key must be deterministic: two machines with identical configuration return
// the same key, and any differing field produces a different key.
type Machine interface {
	RequestorName() string
	Kind() Kind
	Key() string
	Sizing() Spec
	Validate() error
	String() string
}

// IsNil reports whether m is nil or a nil variant pointer held in the interface.
func IsNil(m Machine) bool {
	switch v := m.(type) {
	case nil:
		return true
	case *Desktop:
		return v == nil
	case *Server:
		return v == nil
	}
	return false
}

// Spec holds the sizing common to every variant.
type Spec struct {
	HostName  string `json:"host_name"`
	Requestor string `json:"requestor"`
	CPUs      int    `json:"cpus"`
	RAMGB     int    `json:"ram_gb"`
	HDDGB     int    `json:"hdd_gb"`
	OS        string `json:"os"`
}

// Sizing returns the fields common to every variant.
func (s Spec) Sizing() Spec { return s }

func (s Spec) validate() error {
	var problems []string
	if strings.TrimSpace(s.HostName) == "" {
		problems = append(problems, "host_name required")
	}
	if strings.TrimSpace(s.Requestor) == "" {
		problems = append(problems, "requestor required")
	}
	if s.CPUs <= 0 {
		problems = append(problems, "cpus must be positive")
	}
	if s.RAMGB <= 0 {
		problems = append(problems, "ram_gb must be positive")
	}
	if s.HDDGB <= 0 {
		problems = append(problems, "hdd_gb must be positive")
	}
	if strings.TrimSpace(s.OS) == "" {
		problems = append(problems, "os required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, ", "))
	}
	return nil
}

func (s Spec) key() string {
	return fmt.Sprintf("host=%q requestor=%q cpus=%d ram_gb=%d hdd_gb=%d os=%q",
		s.HostName, s.Requestor, s.CPUs, s.RAMGB, s.HDDGB, s.OS)
}

// Desktop is a single-user workstation.
type Desktop struct {
	Spec
	AssetTag string `json:"asset_tag"`
}

// NewDesktop mirrors the positional form used by the CLI.
func NewDesktop(host, requestor string, cpus, ramGB, hddGB int, os, assetTag string) *Desktop {
	return &Desktop{
		Spec: Spec{
			HostName:  host,
			Requestor: requestor,
			CPUs:      cpus,
			RAMGB:     ramGB,
			HDDGB:     hddGB,
			OS:        os,
		},
		AssetTag: assetTag,
	}
}

func (d *Desktop) RequestorName() string { return d.Requestor }
func (d *Desktop) Kind() Kind            { return KindDesktop }
func (d *Desktop) Validate() error       { return d.validate() }
func (d *Desktop) String() string        { return d.Key() }

func (d *Desktop) Key() string {
	return fmt.Sprintf("desktop{%s asset_tag=%q}", d.key(), d.AssetTag)
}

// Server is a multi-disk host with an administrative contact.
type Server struct {
	Spec
	Disks        int    `json:"disks"`
	SerialNumber string `json:"serial_number"`
	AdminContact string `json:"admin_contact"`
}

// NewServer mirrors the positional form used by the CLI.
func NewServer(host, requestor string, cpus, ramGB, hddGB int, os string, disks int, serial, admin string) *Server {
	return &Server{
		Spec: Spec{
			HostName:  host,
			Requestor: requestor,
			CPUs:      cpus,
			RAMGB:     ramGB,
			HDDGB:     hddGB,
			OS:        os,
		},
		Disks:        disks,
		SerialNumber: serial,
		AdminContact: admin,
	}
}

func (s *Server) RequestorName() string { return s.Requestor }
func (s *Server) Kind() Kind            { return KindServer }
func (s *Server) String() string        { return s.Key() }

func (s *Server) Validate() error {
	if err := s.validate(); err != nil {
		return err
	}
	if s.Disks < 1 {
		return fmt.Errorf("%w: disks must be at least 1", ErrInvalid)
	}
	return nil
}

func (s *Server) Key() string {
	return fmt.Sprintf("server{%s disks=%d serial=%q admin=%q}",
		s.key(), s.Disks, s.SerialNumber, s.AdminContact)
}
