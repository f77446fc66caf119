package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/punchsync/internal/punch"
	"github.com/roach88/punchsync/internal/store"
)

// SeedFile is the directory content loaded by the provision command.
// Sections are applied in field order.
type SeedFile struct {
	Devices     []punch.Device   `yaml:"devices"`
	Employees   []SeedEmployee   `yaml:"employees"`
	Bindings    []punch.Binding  `yaml:"bindings"`
	Provision   []SeedProvision  `yaml:"provision"`
	Enrollments []SeedEnrollment `yaml:"enrollments"`
	Unbind      []SeedBindingKey `yaml:"unbind"`
}

// SeedEmployee is an employee record; Active defaults to true.
type SeedEmployee struct {
	ID             int64  `yaml:"id"`
	OrganizationID int64  `yaml:"organization_id"`
	Name           string `yaml:"name"`
	Active         *bool  `yaml:"active"`
}

func (e SeedEmployee) employee() punch.Employee {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return punch.Employee{ID: e.ID, OrganizationID: e.OrganizationID, Name: e.Name, Active: active}
}

// SeedProvision asks for a binding with the next free device-local ID.
type SeedProvision struct {
	EmployeeID       int64  `yaml:"employee_id"`
	DeviceSerial     string `yaml:"device_serial"`
	PreferredLocalID int64  `yaml:"preferred_local_id"`
	CodeSuffix       string `yaml:"code_suffix"`
}

// SeedEnrollment records the enrollment outcome reported by a device.
type SeedEnrollment struct {
	EmployeeID   int64                  `yaml:"employee_id"`
	DeviceSerial string                 `yaml:"device_serial"`
	Status       punch.EnrollmentStatus `yaml:"status"`
	Fingerprint  bool                   `yaml:"fingerprint"`
}

// SeedBindingKey names one (employee, device) binding.
type SeedBindingKey struct {
	EmployeeID   int64  `yaml:"employee_id"`
	DeviceSerial string `yaml:"device_serial"`
}

// ProvisionResult summarizes what the provision command wrote.
type ProvisionResult struct {
	Devices     int             `json:"devices"`
	Employees   int             `json:"employees"`
	Bindings    int             `json:"bindings"`
	Provisioned []punch.Binding `json:"provisioned,omitempty"`
	Enrollments int             `json:"enrollments"`
	Unbound     int             `json:"unbound"`
}

func (r ProvisionResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Devices: %d, employees: %d, bindings: %d, enrollments: %d, unbound: %d\n",
		r.Devices, r.Employees, r.Bindings, r.Enrollments, r.Unbound)
	for _, b := range r.Provisioned {
		if _, err := fmt.Fprintf(w, "  provisioned employee %d on %s as %d (%s)\n",
			b.EmployeeID, b.DeviceSerial, b.DeviceLocalEmployeeID, b.DeviceLocalCode); err != nil {
			return err
		}
	}
	return nil
}

// LoadSeedFile reads and strictly decodes a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var seed SeedFile
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &seed, nil
}

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision <seed.yaml>",
		Short: "Load devices, employees and device bindings",
		Long: `Apply a YAML seed file to the directory. Sections run in order:

  devices      register terminals and their owning organization
  employees    upsert employee records (active defaults to true)
  bindings     upsert explicit device bindings
  provision    bind an employee to a device with the next free local ID
  enrollments  record enrollment status reported by a device
  unbind       remove employees from devices

Every section is idempotent, so the same file can be applied repeatedly.

Example:
  punchsync provision ./seed.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runProvision(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts)

	seed, err := LoadSeedFile(path)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "invalid seed file", err)
	}

	env, err := openEnvironment(cmd, opts)
	if err != nil {
		return err
	}
	defer env.close()

	result, err := applySeed(cmd.Context(), env.store, seed)
	if err != nil {
		code := CodeStore
		if errors.Is(err, store.ErrNotFound) {
			code = CodeNotFound
		}
		return out.Fail(ExitFailure, code, "provisioning failed", err)
	}
	env.logger.Info("provisioned",
		"devices", result.Devices,
		"employees", result.Employees,
		"bindings", result.Bindings+len(result.Provisioned),
	)
	return out.Success(result)
}

func applySeed(ctx context.Context, st *store.Store, seed *SeedFile) (ProvisionResult, error) {
	var res ProvisionResult
	for _, d := range seed.Devices {
		if err := st.UpsertDevice(ctx, d); err != nil {
			return res, err
		}
		res.Devices++
	}
	for _, e := range seed.Employees {
		if err := st.UpsertEmployee(ctx, e.employee()); err != nil {
			return res, err
		}
		res.Employees++
	}
	for _, b := range seed.Bindings {
		if b.EnrollmentStatus == "" {
			b.EnrollmentStatus = punch.EnrollmentPending
		}
		if err := st.UpsertBinding(ctx, b); err != nil {
			return res, err
		}
		res.Bindings++
	}
	for _, p := range seed.Provision {
		b, err := st.ProvisionBinding(ctx, store.ProvisionRequest{
			EmployeeID:       p.EmployeeID,
			DeviceSerial:     p.DeviceSerial,
			PreferredLocalID: p.PreferredLocalID,
			CodeSuffix:       p.CodeSuffix,
		})
		if err != nil {
			return res, err
		}
		res.Provisioned = append(res.Provisioned, b)
	}
	for _, e := range seed.Enrollments {
		switch e.Status {
		case punch.EnrollmentPending, punch.EnrollmentCompleted, punch.EnrollmentFailed:
		default:
			return res, fmt.Errorf("enrollment for employee %d on %s: invalid status %q", e.EmployeeID, e.DeviceSerial, e.Status)
		}
		if err := st.SetEnrollment(ctx, e.EmployeeID, e.DeviceSerial, e.Status, e.Fingerprint); err != nil {
			return res, err
		}
		res.Enrollments++
	}
	for _, k := range seed.Unbind {
		if err := st.DeleteBinding(ctx, k.EmployeeID, k.DeviceSerial); err != nil {
			return res, err
		}
		res.Unbound++
	}
	return res, nil
}
