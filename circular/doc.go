// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package circular provides sliding-window bookkeeping which is frequently
// useful when iterating through sorted BAM files.
package circular
