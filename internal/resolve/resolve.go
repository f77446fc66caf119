package resolve

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/punchsync/internal/punch"
)

// Directory is the read-only lookup surface the resolver needs.
// *store.Store satisfies it.
type Directory interface {
	BindingByCode(ctx context.Context, organizationID int64, serial, code string) (punch.Binding, bool, error)
	BindingByLocalID(ctx context.Context, organizationID int64, serial string, localID int64) (punch.Binding, bool, error)
	Employee(ctx context.Context, organizationID, id int64) (punch.Employee, bool, error)
	EmployeeAnyTenant(ctx context.Context, id int64) (punch.Employee, bool, error)
}

// Strategy identifies which rule produced a match.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyBindingByCode
	StrategyBindingByLocalID
	StrategyStructuredCode
	StrategyMachineID
	StrategyNumericCode
)

func (s Strategy) String() string {
	switch s {
	case StrategyBindingByCode:
		return "binding_by_code"
	case StrategyBindingByLocalID:
		return "binding_by_local_id"
	case StrategyStructuredCode:
		return "structured_code"
	case StrategyMachineID:
		return "machine_id"
	case StrategyNumericCode:
		return "numeric_code"
	default:
		return "none"
	}
}

// Query carries the identifiers of one transaction.
type Query struct {
	EmployeeCode      string
	MachineEmployeeID int64 // 0 when absent
	DeviceSerial      string
	OrganizationID    int64
}

// QueryFor builds the resolution query for a transaction observed on a
// device owned by organizationID.
func QueryFor(t punch.RawTransaction, organizationID int64) Query {
	return Query{
		EmployeeCode:      t.EmployeeCodeOnDevice,
		MachineEmployeeID: t.MachineEmployeeID,
		DeviceSerial:      t.DeviceSerial,
		OrganizationID:    organizationID,
	}
}

// Match is a resolved employee and the strategy that found it.
type Match struct {
	Employee punch.Employee
	Strategy Strategy
}

var structuredEmployee = regexp.MustCompile(`_EMP(\d+)_`)

// Resolver applies the resolution strategies in order.
type Resolver struct {
	dir Directory
}

// New creates a Resolver over dir.
func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

type strategyFunc func(ctx context.Context, q Query) (punch.Employee, bool, error)

// Resolve returns the first employee any strategy finds.
// found=false means no strategy matched; err is reserved for lookup failures.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Match, bool, error) {
	q.EmployeeCode = strings.TrimSpace(q.EmployeeCode)
	q.DeviceSerial = strings.TrimSpace(q.DeviceSerial)

	strategies := []struct {
		id Strategy
		fn strategyFunc
	}{
		{StrategyBindingByCode, r.byBindingCode},
		{StrategyBindingByLocalID, r.byBindingLocalID},
		{StrategyStructuredCode, r.byStructuredCode},
		{StrategyMachineID, r.byMachineID},
		{StrategyNumericCode, r.byNumericCode},
	}
	for _, s := range strategies {
		emp, found, err := s.fn(ctx, q)
		if err != nil {
			return Match{}, false, fmt.Errorf("resolve %s: %w", s.id, err)
		}
		if found {
			return Match{Employee: emp, Strategy: s.id}, true, nil
		}
	}
	return Match{}, false, nil
}

func (r *Resolver) byBindingCode(ctx context.Context, q Query) (punch.Employee, bool, error) {
	if q.EmployeeCode == "" || q.DeviceSerial == "" {
		return punch.Employee{}, false, nil
	}
	b, found, err := r.dir.BindingByCode(ctx, q.OrganizationID, q.DeviceSerial, q.EmployeeCode)
	if err != nil || !found {
		return punch.Employee{}, false, err
	}
	return r.dir.Employee(ctx, q.OrganizationID, b.EmployeeID)
}

func (r *Resolver) byBindingLocalID(ctx context.Context, q Query) (punch.Employee, bool, error) {
	if q.MachineEmployeeID <= 0 || q.DeviceSerial == "" {
		return punch.Employee{}, false, nil
	}
	b, found, err := r.dir.BindingByLocalID(ctx, q.OrganizationID, q.DeviceSerial, q.MachineEmployeeID)
	if err != nil || !found {
		return punch.Employee{}, false, err
	}
	return r.dir.Employee(ctx, q.OrganizationID, b.EmployeeID)
}

func (r *Resolver) byStructuredCode(ctx context.Context, q Query) (punch.Employee, bool, error) {
	id, ok := ParseStructuredCode(q.EmployeeCode)
	if !ok {
		return punch.Employee{}, false, nil
	}
	return r.dir.Employee(ctx, q.OrganizationID, id)
}

func (r *Resolver) byMachineID(ctx context.Context, q Query) (punch.Employee, bool, error) {
	if q.MachineEmployeeID <= 0 {
		return punch.Employee{}, false, nil
	}
	return r.dir.Employee(ctx, q.OrganizationID, q.MachineEmployeeID)
}

func (r *Resolver) byNumericCode(ctx context.Context, q Query) (punch.Employee, bool, error) {
	id, err := strconv.ParseInt(q.EmployeeCode, 10, 64)
	if err != nil || id <= 0 {
		return punch.Employee{}, false, nil
	}
	return r.dir.EmployeeAnyTenant(ctx, id)
}

// ParseStructuredCode extracts the employee ID from codes shaped like
// *_EMP{digits}_*. Any TENANT{n} prefix is ignored; the caller scopes the
// lookup to the device's organization.
func ParseStructuredCode(code string) (int64, bool) {
	m := structuredEmployee.FindStringSubmatch(code)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
