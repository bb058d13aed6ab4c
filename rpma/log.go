// This file is part of go-rpma, a Go port of librpma's connection-oriented
// RDMA API.
// Copyright (C) 2024 The go-rpma Authors
//
// go-rpma is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// go-rpma is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package rpma

import "github.com/pmem/go-rpma/internal/rpmalog"

// log is the process-wide sink every rpma constructor/destructor traces
// through. It is never touched directly by callers; SetLogger replaces it.
var log rpmalog.Logger = rpmalog.NewDefault()

// SetLogger replaces the logging sink the core writes to. The default,
// installed at package init, fans out to gospel/logger and the standard
// log package per internal/rpmalog's threshold-pair model.
func SetLogger(l rpmalog.Logger) {
	if l != nil {
		log = l
	}
}

func trace(op string) {
	file, line, fn := rpmalog.Caller(1)
	log.Log(rpmalog.DEBUG, file, line, fn, "%s", op)
}

func logError(op string, err error) {
	file, line, fn := rpmalog.Caller(1)
	log.Log(rpmalog.ERROR, file, line, fn, "%s: %v", op, err)
}

func logWarn(format string, args ...interface{}) {
	file, line, fn := rpmalog.Caller(1)
	log.Log(rpmalog.WARN, file, line, fn, format, args...)
}

func logNotice(format string, args ...interface{}) {
	file, line, fn := rpmalog.Caller(1)
	log.Log(rpmalog.NOTICE, file, line, fn, format, args...)
}
