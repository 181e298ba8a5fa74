// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package pointbus

import "syscall"

func reusePort(_, _ string, _ syscall.RawConn) error { return nil }
