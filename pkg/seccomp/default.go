package seccomp

const (
	errnoEPERM = 1
	afUnix     = 1
)

func baseSyscalls(b *GroupBuilder) *GroupBuilder {
	return b.
		Syscalls(
			"read", "write", "readv", "writev", "pread64", "pwrite64",
			"openat", "close", "lseek",
			"fstat", "newfstatat", "statx",
			"faccessat", "faccessat2",
			"dup", "dup3",
			"fcntl",
			"ppoll", "pselect6",
			"pipe2",
			"readlinkat",
			"getdents64",
		).
		Syscalls(
			"brk", "mmap", "munmap", "mprotect", "mremap",
			"madvise",
		).
		Syscalls(
			"execve", "execveat",
			"exit", "exit_group",
			"wait4", "waitid",
			"clone", "clone3",
			"set_tid_address",
			"set_robust_list", "get_robust_list",
		).
		Syscalls(
			"futex",
			"gettid",
			"tgkill",
			"rt_sigaction", "rt_sigprocmask", "rt_sigreturn",
			"sigaltstack",
		).
		Syscalls(
			"clock_gettime", "clock_getres",
			"gettimeofday",
			"nanosleep", "clock_nanosleep",
		).
		Syscalls(
			"getpid", "getppid",
			"getuid", "geteuid",
			"getgid", "getegid",
			"uname",
			"getcwd",
		).
		Syscalls(
			"epoll_create1", "epoll_ctl", "epoll_pwait",
			"eventfd2",
		).
		Syscalls(
			"getrandom",
			"prctl",
			"ioctl",
			"sysinfo",
			"prlimit64",
			"umask",
			"fchmod", "fchmodat",
			"chdir", "fchdir",
			"renameat2",
			"unlinkat",
			"mkdirat",
			"symlinkat",
			"linkat",
			"ftruncate",
			"fallocate",
			"fsync", "fdatasync",
			"flock",
			"statfs", "fstatfs",
			"memfd_create",
			"copy_file_range",
		)
}

// legacySyscalls are the pre-*at variants that only exist on x86_64.
func legacySyscalls(b *GroupBuilder, arch TargetArch) *GroupBuilder {
	if arch != ArchX86_64 {
		return b
	}
	return b.Syscalls(
		"open", "stat", "lstat", "access",
		"dup2", "poll", "select", "pipe", "readlink",
		"vfork", "arch_prctl", "getrlimit",
		"chmod", "rename", "renameat", "unlink", "mkdir", "rmdir",
		"symlink", "link",
		"epoll_wait",
	)
}

// DefaultGroup returns a deny-by-default group with the syscalls an
// interpreter or shell needs. Local (AF_UNIX) sockets are allowed.
func DefaultGroup(arch TargetArch) FilterGroup {
	b := NewBuilder().WithDefaultAction(Errno(errnoEPERM))
	b = baseSyscalls(b)
	b = legacySyscalls(b, arch)
	b.SyscallWithArgs("socket", Arg(0, OpEqual, afUnix))
	return b.Build()
}

// NetworkGroup adds unrestricted socket/connect/bind to the default group.
func NetworkGroup(arch TargetArch) FilterGroup {
	b := NewBuilder().WithDefaultAction(Errno(errnoEPERM))
	b = baseSyscalls(b)
	b = legacySyscalls(b, arch)

	// Network syscalls
	b.Syscalls(
		"socket", "connect", "bind", "listen", "accept", "accept4",
		"sendto", "recvfrom", "sendmsg", "recvmsg",
		"getsockopt", "setsockopt",
		"getsockname", "getpeername",
		"shutdown",
	)
	return b.Build()
}

// StarterDocument returns a policy document holding the "default" and
// "network" groups for arch.
func StarterDocument(arch TargetArch) *PolicyDocument {
	doc := NewPolicyDocument()
	_ = doc.Add("default", DefaultGroup(arch))
	_ = doc.Add("network", NetworkGroup(arch))
	return doc
}
