//go:build ignore

package kernel

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -cc clang -cflags "-O2 -g -Wall -Werror -D__TARGET_ARCH_x86" -target amd64 -type trace_record fstrace ../../bpf/fstrace.c -- -I../../bpf/headers
