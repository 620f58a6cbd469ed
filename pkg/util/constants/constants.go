/*
Copyright 2026 Pressinfra SRL

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package constants

import "github.com/blang/semver"

const (
	// MysqlPort is the port legacy clients are told to connect to
	MysqlPort = 3306
	// LoopbackAddress is where clients sharing the host reach the router
	LoopbackAddress = "127.0.0.1"

	// RouterReadWritePort is the classic protocol read-write port
	RouterReadWritePort = 6446
	// RouterReadOnlyPort is the classic protocol read-only port
	RouterReadOnlyPort = 6447
	// RouterReadWriteXPort is the X protocol read-write port
	RouterReadWriteXPort = 6448
	// RouterReadOnlyXPort is the X protocol read-only port
	RouterReadOnlyXPort = 6449

	// RouterRESTAPIPort is the port of the router REST API, bound to localhost
	RouterRESTAPIPort = 8443

	// ExporterPort is the port that metrics will be exported
	ExporterPort = 49152

	// ExporterPath is the path on which metrics are expose
	ExporterPath = "/metrics"

	// MonitoringUsername is the router REST API user used by the exporter
	MonitoringUsername = "monitoring"

	// ClusterMetadataDatabase is the database requested on the upstream
	// relation, access to it is what router bootstrap needs
	ClusterMetadataDatabase = "mysql_innodb_cluster_metadata"

	// RouterUserRole is the extra role requested for the router user
	RouterUserRole = "mysqlrouter"

	// SnapName is the snap that ships MySQL Router and MySQL Shell on machines
	SnapName = "charmed-mysql"

	// PasswordLength is the length of every generated password
	PasswordLength = 24
)

var (
	// SnapRevisions pins the snap revision for each architecture
	SnapRevisions = map[string]string{
		"amd64": "121",
		"arm64": "122",
	}

	// WorkloadVersion is the MySQL Router version shipped by the pinned snap revisions
	WorkloadVersion = semver.MustParse("8.0.36")

	// SupportedArchitectures are the architectures the charm is built for
	SupportedArchitectures = []string{"amd64", "arm64"}
)
