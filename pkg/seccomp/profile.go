// Package seccomp builds syscall filters for the interpreter container.
package seccomp

import (
	"encoding/json"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Builder assembles a deny-by-default profile one rule at a time.
type Builder struct {
	profile *specs.LinuxSeccomp
}

func NewBuilder() *Builder {
	return &Builder{
		profile: &specs.LinuxSeccomp{
			DefaultAction:   specs.ActErrno,
			DefaultErrnoRet: errnoRet(1), // EPERM
			Architectures: []specs.Arch{
				specs.ArchX86_64,
				specs.ArchAARCH64,
			},
		},
	}
}

func (b *Builder) rule(action specs.LinuxSeccompAction, names []string) *Builder {
	if len(names) == 0 {
		return b
	}
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: action,
	})
	return b
}

func (b *Builder) Allow(names ...string) *Builder { return b.rule(specs.ActAllow, names) }

func (b *Builder) Deny(names ...string) *Builder { return b.rule(specs.ActErrno, names) }

// Kill terminates the process on any of names.
func (b *Builder) Kill(names ...string) *Builder { return b.rule(specs.ActKillProcess, names) }

// AllowGroups allows every syscall of the named groups, in order.
func (b *Builder) AllowGroups(groups ...Group) *Builder {
	for _, g := range groups {
		b.Allow(g.Syscalls...)
	}
	return b
}

func (b *Builder) Build() *specs.LinuxSeccomp {
	return b.profile
}

// DockerJSON encodes a profile in the format accepted by
// `docker run --security-opt seccomp=<file>`.
func DockerJSON(p *specs.LinuxSeccomp) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encoding seccomp profile: nil profile")
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding seccomp profile: %w", err)
	}
	return data, nil
}

// Allowed reports whether p lets name through.
func Allowed(p *specs.LinuxSeccomp, name string) bool {
	for _, rule := range p.Syscalls {
		for _, n := range rule.Names {
			if n == name {
				return rule.Action == specs.ActAllow
			}
		}
	}
	return p.DefaultAction == specs.ActAllow
}

func errnoRet(v uint) *uint { return &v }
