// Package resolve maps the identifying fields of a device transaction to an
// internal employee.
//
// Resolution tries an ordered list of strategies and returns the first match:
//
//  1. Binding by (employee code, device) within the tenant.
//  2. Binding by (machine employee ID, device) within the tenant.
//  3. Employee ID parsed from a structured code such as TENANT3_EMP42_AB12.
//  4. Machine employee ID taken as an employee ID within the tenant.
//  5. Numeric employee code taken as an employee ID in any tenant.
//
// The last strategy ignores the tenant. Callers must compare the matched
// employee's organization with the device's organization before applying.
package resolve
