package tracer

// Kernel trace codes. A BSD syscall's trace code is the BSC class base
// plus the syscall number shifted left by two; the values below are
// derived from the kernel's trace.codes listing, which is also what
// fs_usage works from.
const (
	bscBase   = 0x040c0000
	classMask = 0xff000000
	cscMask   = 0xffff0000

	// Trace metadata records.
	traceDataNewthread = 0x07000004
	traceStringExec    = 0x07010008
	vfsLookup          = 0x03010090

	// Legacy Carbon FileManager class. Anything in it is a coverage
	// gap: the arguments needed to resolve paths are not exposed.
	filemgrBase = 0x1e000000
)

// AtFDCWD is the pseudo directory-fd meaning "the calling thread's
// working directory", as passed to *at syscalls.
const AtFDCWD = -2

const (
	bscOpen              = bscBase + 5<<2
	bscClose             = bscBase + 6<<2
	bscLink              = bscBase + 9<<2
	bscUnlink            = bscBase + 10<<2
	bscChdir             = bscBase + 12<<2
	bscFchdir            = bscBase + 13<<2
	bscMknod             = bscBase + 14<<2
	bscChmod             = bscBase + 15<<2
	bscChown             = bscBase + 16<<2
	bscAccess            = bscBase + 33<<2
	bscChflags           = bscBase + 34<<2
	bscFchflags          = bscBase + 35<<2
	bscDup               = bscBase + 41<<2
	bscSymlink           = bscBase + 57<<2
	bscReadlink          = bscBase + 58<<2
	bscExecve            = bscBase + 59<<2
	bscChroot            = bscBase + 61<<2
	bscDup2              = bscBase + 90<<2
	bscFcntl             = bscBase + 92<<2
	bscFchown            = bscBase + 123<<2
	bscFchmod            = bscBase + 124<<2
	bscRename            = bscBase + 128<<2
	bscFlock             = bscBase + 131<<2
	bscMkfifo            = bscBase + 132<<2
	bscMkdir             = bscBase + 136<<2
	bscRmdir             = bscBase + 137<<2
	bscUtimes            = bscBase + 138<<2
	bscFutimes           = bscBase + 139<<2
	bscStat              = bscBase + 188<<2
	bscFstat             = bscBase + 189<<2
	bscLstat             = bscBase + 190<<2
	bscPathconf          = bscBase + 191<<2
	bscGetdirentries     = bscBase + 196<<2
	bscTruncate          = bscBase + 200<<2
	bscUndelete          = bscBase + 205<<2
	bscOpenDprotectedNp  = bscBase + 216<<2
	bscGetattrlist       = bscBase + 220<<2
	bscSetattrlist       = bscBase + 221<<2
	bscGetdirentriesattr = bscBase + 222<<2
	bscExchangedata      = bscBase + 223<<2
	bscSearchfs          = bscBase + 225<<2
	bscDelete            = bscBase + 226<<2
	bscCopyfile          = bscBase + 227<<2
	bscFgetattrlist      = bscBase + 228<<2
	bscFsetattrlist      = bscBase + 229<<2
	bscGetxattr          = bscBase + 234<<2
	bscFgetxattr         = bscBase + 235<<2
	bscSetxattr          = bscBase + 236<<2
	bscFsetxattr         = bscBase + 237<<2
	bscRemovexattr       = bscBase + 238<<2
	bscFremovexattr      = bscBase + 239<<2
	bscListxattr         = bscBase + 240<<2
	bscFlistxattr        = bscBase + 241<<2
	bscPosixSpawn        = bscBase + 244<<2
	bscFhopen            = bscBase + 248<<2
	bscOpenExtended      = bscBase + 277<<2
	bscStatExtended      = bscBase + 279<<2
	bscLstatExtended     = bscBase + 280<<2
	bscFstatExtended     = bscBase + 281<<2
	bscChmodExtended     = bscBase + 282<<2
	bscFchmodExtended    = bscBase + 283<<2
	bscAccessExtended    = bscBase + 284<<2
	bscMkfifoExtended    = bscBase + 291<<2
	bscMkdirExtended     = bscBase + 292<<2
	bscStat64            = bscBase + 338<<2
	bscFstat64           = bscBase + 339<<2
	bscLstat64           = bscBase + 340<<2
	bscStat64Extended    = bscBase + 341<<2
	bscLstat64Extended   = bscBase + 342<<2
	bscFstat64Extended   = bscBase + 343<<2
	bscGetdirentries64   = bscBase + 344<<2
	bscPthreadChdir      = bscBase + 348<<2
	bscPthreadFchdir     = bscBase + 349<<2
	bscThreadTerminate   = bscBase + 361<<2
	bscLchown            = bscBase + 364<<2
	bscOpenNocancel      = bscBase + 398<<2
	bscCloseNocancel     = bscBase + 399<<2
	bscFcntlNocancel     = bscBase + 406<<2
	bscFsgetpath         = bscBase + 427<<2
	bscGuardedOpenNp     = bscBase + 441<<2
	bscGuardedCloseNp    = bscBase + 442<<2
	bscGetattrlistbulk   = bscBase + 461<<2
	bscOpenat            = bscBase + 463<<2
	bscOpenatNocancel    = bscBase + 464<<2
	bscRenameat          = bscBase + 465<<2
	bscFaccessat         = bscBase + 466<<2
	bscFchmodat          = bscBase + 467<<2
	bscFchownat          = bscBase + 468<<2
	bscFstatat           = bscBase + 469<<2
	bscFstatat64         = bscBase + 470<<2
	bscLinkat            = bscBase + 471<<2
	bscUnlinkat          = bscBase + 472<<2
	bscReadlinkat        = bscBase + 473<<2
	bscSymlinkat         = bscBase + 474<<2
	bscMkdirat           = bscBase + 475<<2
	bscGetattrlistat     = bscBase + 476<<2
	bscOpenbyidNp        = bscBase + 479<<2

	bscGuardedOpenDprotectedNp = bscBase + 484<<2
	bscRenameatxNp             = bscBase + 488<<2
)

// tracedSyscall reports whether code identifies a BSD syscall the
// classifier knows how to handle. Everything else in the stream is
// noise to be skipped.
func tracedSyscall(code uint32) bool {
	if code&cscMask != bscBase {
		return false
	}

	_, ok := handlers[code]

	return ok
}
