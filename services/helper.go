package services

import (
	"fmt"
	"strings"
)

// ContainerName is the project-scoped container name for a service.
func ContainerName(project, service string) string {
	return fmt.Sprintf("%s-%s", safeName(project), safeName(service))
}

// NetworkName is the shared network every service of a project joins.
// Services reach each other through it by service-name alias.
func NetworkName(project string) string {
	return safeName(project)
}

// ImageTag names a built artifact by its content digest, so topologies that
// point several services at the same build source reuse one image.
func ImageTag(project, digest string) string {
	return fmt.Sprintf("%s-build:%s", safeName(project), digest)
}

func safeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	return s
}
