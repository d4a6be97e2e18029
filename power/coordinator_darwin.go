//go:build darwin
// +build darwin

/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * QAnotherRTSP
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of QAnotherRTSP.
 *
 * QAnotherRTSP is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * QAnotherRTSP is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with QAnotherRTSP.  If not, see <https://www.gnu.org/licenses/>.
 */
package power

import (
	"errors"
	"log"

	"github.com/prashantgupta24/mac-sleep-notifier/notifier"
)

/*
#cgo LDFLAGS: -framework IOKit -framework CoreFoundation
#include <IOKit/pwr_mgt/IOPMLib.h>
#include <CoreFoundation/CoreFoundation.h>

static IOPMAssertionID assertionID = 0;

static int acquireAssertion(const char *reason) {
    CFStringRef reasonRef = CFStringCreateWithCString(kCFAllocatorDefault, reason, kCFStringEncodingUTF8);
    IOReturn ret = IOPMAssertionCreateWithName(
        kIOPMAssertionTypePreventUserIdleSystemSleep,
        kIOPMAssertionLevelOn,
        reasonRef,
        &assertionID);
    CFRelease(reasonRef);
    return ret == kIOReturnSuccess ? 0 : -1;
}

static void releaseAssertion(void) {
    if (assertionID != 0) {
        IOPMAssertionRelease(assertionID);
        assertionID = 0;
    }
}
*/
import "C"

func assertIdleSleepPrevention() error {
	if C.acquireAssertion(C.CString("scrcpy-core capture in progress")) != 0 {
		return errors.New("power: IOPMAssertionCreateWithName failed")
	}
	return nil
}

func releaseIdleSleepPrevention() {
	C.releaseAssertion()
}

// WatchSleep starts the mac-sleep-notifier loop and forwards Awake
// transitions to notifyWake, mirroring this pipeline's HandleSleep loop in
// src/darwin.go but generalized to this package's fan-out subscribers
// instead of a hardcoded list of *CamWindow.
func (c *Coordinator) WatchSleep() {
	ch := notifier.GetInstance().Start()
	go func() {
		for activity := range ch {
			switch activity.Type {
			case notifier.Awake:
				log.Println("[power] machine awake")
				c.notifyWake()
			case notifier.Sleep:
				log.Println("[power] machine sleeping")
			}
		}
	}()
}
