// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrEventNotFound = errors.New("activity log not found")
var ErrWebhookNotConfigured = errors.New("discord webhook not configured")
