// Copyright 2025 Lawliet Project
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging with per-user context for
Lawliet components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (hub, registry, etc.)
  - Instance ID and container name (for distributed tracing)
  - Username (the user the broker is acting for)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("hub")

Log messages with user and request context:

	log.Info("alice", "req-456", "Provisioning lab", map[string]interface{}{
	    "lab_id": labID,
	    "image":  image,
	})

Log errors with status codes:

	log.ErrorWithCode("alice", "req-456", "Backend call failed", 502, err, map[string]interface{}{
	    "endpoint": endpoint,
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("alice", "req-456", "Provision completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Entries are emitted as single-line JSON objects so downstream collectors can
index them without multi-line parsing.
*/
package logger
