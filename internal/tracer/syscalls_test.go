package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTraceCodeValues pins every trace code against the literal value
// the kernel publishes in trace.codes (the same listing fs_usage
// works from). The rest of the suite builds records from these
// constants, so a wrong value would otherwise cancel out and pass.
func TestTraceCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code uint32
		want uint32
	}{
		{"new thread", traceDataNewthread, 0x07000004},
		{"string exec", traceStringExec, 0x07010008},
		{"vfs lookup", vfsLookup, 0x03010090},

		{"open", bscOpen, 0x040c0014},
		{"close", bscClose, 0x040c0018},
		{"link", bscLink, 0x040c0024},
		{"unlink", bscUnlink, 0x040c0028},
		{"chdir", bscChdir, 0x040c0030},
		{"fchdir", bscFchdir, 0x040c0034},
		{"mknod", bscMknod, 0x040c0038},
		{"chmod", bscChmod, 0x040c003c},
		{"chown", bscChown, 0x040c0040},
		{"access", bscAccess, 0x040c0084},
		{"chflags", bscChflags, 0x040c0088},
		{"fchflags", bscFchflags, 0x040c008c},
		{"dup", bscDup, 0x040c00a4},
		{"symlink", bscSymlink, 0x040c00e4},
		{"readlink", bscReadlink, 0x040c00e8},
		{"execve", bscExecve, 0x040c00ec},
		{"chroot", bscChroot, 0x040c00f4},
		{"dup2", bscDup2, 0x040c0168},
		{"fcntl", bscFcntl, 0x040c0170},
		{"fchown", bscFchown, 0x040c01ec},
		{"fchmod", bscFchmod, 0x040c01f0},
		{"rename", bscRename, 0x040c0200},
		{"flock", bscFlock, 0x040c020c},
		{"mkfifo", bscMkfifo, 0x040c0210},
		{"mkdir", bscMkdir, 0x040c0220},
		{"rmdir", bscRmdir, 0x040c0224},
		{"utimes", bscUtimes, 0x040c0228},
		{"futimes", bscFutimes, 0x040c022c},
		{"stat", bscStat, 0x040c02f0},
		{"fstat", bscFstat, 0x040c02f4},
		{"lstat", bscLstat, 0x040c02f8},
		{"pathconf", bscPathconf, 0x040c02fc},
		{"getdirentries", bscGetdirentries, 0x040c0310},
		{"truncate", bscTruncate, 0x040c0320},
		{"undelete", bscUndelete, 0x040c0334},
		{"open_dprotected_np", bscOpenDprotectedNp, 0x040c0360},
		{"getattrlist", bscGetattrlist, 0x040c0370},
		{"setattrlist", bscSetattrlist, 0x040c0374},
		{"getdirentriesattr", bscGetdirentriesattr, 0x040c0378},
		{"exchangedata", bscExchangedata, 0x040c037c},
		{"searchfs", bscSearchfs, 0x040c0384},
		{"delete", bscDelete, 0x040c0388},
		{"copyfile", bscCopyfile, 0x040c038c},
		{"fgetattrlist", bscFgetattrlist, 0x040c0390},
		{"fsetattrlist", bscFsetattrlist, 0x040c0394},
		{"getxattr", bscGetxattr, 0x040c03a8},
		{"fgetxattr", bscFgetxattr, 0x040c03ac},
		{"setxattr", bscSetxattr, 0x040c03b0},
		{"fsetxattr", bscFsetxattr, 0x040c03b4},
		{"removexattr", bscRemovexattr, 0x040c03b8},
		{"fremovexattr", bscFremovexattr, 0x040c03bc},
		{"listxattr", bscListxattr, 0x040c03c0},
		{"flistxattr", bscFlistxattr, 0x040c03c4},
		{"posix_spawn", bscPosixSpawn, 0x040c03d0},
		{"fhopen", bscFhopen, 0x040c03e0},
		{"open_extended", bscOpenExtended, 0x040c0454},
		{"stat_extended", bscStatExtended, 0x040c045c},
		{"lstat_extended", bscLstatExtended, 0x040c0460},
		{"fstat_extended", bscFstatExtended, 0x040c0464},
		{"chmod_extended", bscChmodExtended, 0x040c0468},
		{"fchmod_extended", bscFchmodExtended, 0x040c046c},
		{"access_extended", bscAccessExtended, 0x040c0470},
		{"mkfifo_extended", bscMkfifoExtended, 0x040c048c},
		{"mkdir_extended", bscMkdirExtended, 0x040c0490},
		{"stat64", bscStat64, 0x040c0548},
		{"fstat64", bscFstat64, 0x040c054c},
		{"lstat64", bscLstat64, 0x040c0550},
		{"stat64_extended", bscStat64Extended, 0x040c0554},
		{"lstat64_extended", bscLstat64Extended, 0x040c0558},
		{"fstat64_extended", bscFstat64Extended, 0x040c055c},
		{"getdirentries64", bscGetdirentries64, 0x040c0560},
		{"pthread_chdir", bscPthreadChdir, 0x040c0570},
		{"pthread_fchdir", bscPthreadFchdir, 0x040c0574},
		{"bsdthread_terminate", bscThreadTerminate, 0x040c05a4},
		{"lchown", bscLchown, 0x040c05b0},
		{"open_nocancel", bscOpenNocancel, 0x040c0638},
		{"close_nocancel", bscCloseNocancel, 0x040c063c},
		{"fcntl_nocancel", bscFcntlNocancel, 0x040c0658},
		{"fsgetpath", bscFsgetpath, 0x040c06ac},
		{"guarded_open_np", bscGuardedOpenNp, 0x040c06e4},
		{"guarded_close_np", bscGuardedCloseNp, 0x040c06e8},
		{"getattrlistbulk", bscGetattrlistbulk, 0x040c0734},
		{"openat", bscOpenat, 0x040c073c},
		{"openat_nocancel", bscOpenatNocancel, 0x040c0740},
		{"renameat", bscRenameat, 0x040c0744},
		{"faccessat", bscFaccessat, 0x040c0748},
		{"fchmodat", bscFchmodat, 0x040c074c},
		{"fchownat", bscFchownat, 0x040c0750},
		{"fstatat", bscFstatat, 0x040c0754},
		{"fstatat64", bscFstatat64, 0x040c0758},
		{"linkat", bscLinkat, 0x040c075c},
		{"unlinkat", bscUnlinkat, 0x040c0760},
		{"readlinkat", bscReadlinkat, 0x040c0764},
		{"symlinkat", bscSymlinkat, 0x040c0768},
		{"mkdirat", bscMkdirat, 0x040c076c},
		{"getattrlistat", bscGetattrlistat, 0x040c0770},
		{"openbyid_np", bscOpenbyidNp, 0x040c077c},
		{"guarded_open_dprotected_np", bscGuardedOpenDprotectedNp, 0x040c0790},
		{"renameatx_np", bscRenameatxNp, 0x040c07a0},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.want, tt.code, "%s trace code", tt.name)
	}
}

// tracedSyscall must accept only codes in the dispatch table and only
// within the BSD syscall class.
func TestTracedSyscall(t *testing.T) {
	assert.True(t, tracedSyscall(bscOpen))
	assert.True(t, tracedSyscall(bscTruncate))

	// lseek sits right next to truncate and is not path relevant.
	assert.False(t, tracedSyscall(0x040c031c))

	// A known offset in the wrong class.
	assert.False(t, tracedSyscall(0x030c0014))
}
