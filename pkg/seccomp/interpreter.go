package seccomp

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Group is a named set of syscalls allowed together.
type Group struct {
	Name     string
	Syscalls []string
}

var (
	// FileIO covers reading modules and writing to the /tmp tmpfs.
	FileIO = Group{"file_io", []string{
		"read", "write", "readv", "writev", "pread64", "pwrite64",
		"open", "openat", "openat2", "close", "close_range", "lseek",
		"stat", "fstat", "lstat", "newfstatat", "statx", "statfs", "fstatfs",
		"access", "faccessat", "faccessat2",
		"dup", "dup2", "dup3", "fcntl", "ioctl", "flock",
		"pipe", "pipe2",
		"readlink", "readlinkat", "getdents64", "getcwd", "chdir", "fchdir",
		"unlink", "unlinkat", "rename", "renameat", "renameat2",
		"mkdir", "mkdirat", "rmdir", "ftruncate", "fsync", "fdatasync",
		"umask", "fchmod", "fchmodat", "utimensat",
	}}

	Memory = Group{"memory", []string{
		"brk", "mmap", "munmap", "mprotect", "mremap", "madvise", "mincore",
	}}

	// Threads covers the interpreter's own threads; the entrypoint exec
	// needs execve once.
	Threads = Group{"threads", []string{
		"execve", "exit", "exit_group", "wait4",
		"clone", "clone3", "set_tid_address",
		"set_robust_list", "get_robust_list", "rseq",
		"futex", "futex_waitv", "gettid", "sched_yield", "sched_getaffinity",
	}}

	Signals = Group{"signals", []string{
		"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "sigaltstack", "tgkill", "kill",
	}}

	Clock = Group{"clock", []string{
		"clock_gettime", "clock_getres", "gettimeofday", "nanosleep", "clock_nanosleep",
	}}

	Process = Group{"process", []string{
		"getpid", "getppid", "getuid", "geteuid", "getgid", "getegid", "getgroups",
		"uname", "sysinfo", "getrandom", "arch_prctl", "prctl",
		"getrlimit", "prlimit64", "getrusage", "times",
	}}

	// Polling lets asyncio and selectors work on local pipes.
	Polling = Group{"polling", []string{
		"poll", "ppoll", "select", "pselect6",
		"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait", "eventfd2",
	}}

	Network = Group{"network", []string{
		"socket", "socketpair", "connect", "bind", "listen", "accept", "accept4",
		"sendto", "recvfrom", "sendmsg", "recvmsg",
		"getsockopt", "setsockopt", "getsockname", "getpeername", "shutdown",
	}}
)

// escapeSyscalls kill the interpreter outright: none has a use in an exercise.
var escapeSyscalls = []string{
	"ptrace", "process_vm_readv", "process_vm_writev",
	"keyctl", "add_key", "request_key",
	"bpf", "perf_event_open", "userfaultfd",
	"kexec_load", "kexec_file_load",
	"init_module", "finit_module", "delete_module",
	"mount", "umount2", "pivot_root", "setns", "unshare",
	"reboot", "swapon", "swapoff", "iopl", "ioperm",
}

// InterpreterGroups lists the groups the interpreter profile allows.
func InterpreterGroups(network bool) []Group {
	groups := []Group{FileIO, Memory, Threads, Signals, Clock, Process, Polling}
	if network {
		groups = append(groups, Network)
	}
	return groups
}

// InterpreterProfile allows what a Python interpreter running learner code
// needs. Escape-prone syscalls kill the process; fork and vfork fail with
// EPERM.
func InterpreterProfile(network bool) *specs.LinuxSeccomp {
	return NewBuilder().
		Kill(escapeSyscalls...).
		Deny("fork", "vfork", "execveat").
		AllowGroups(InterpreterGroups(network)...).
		Build()
}
