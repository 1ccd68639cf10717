package common

// SoftwareName is the name of this software
const SoftwareName = "spring-hostlist"

// SoftwareVersion is the version of this software
const SoftwareVersion = "v1.0.0"
