package rolling

import (
	"fmt"
	"strconv"
	"strings"
)

// Plan returns the members of a StatefulSet in the order they are restarted:
// "<name>-0" through "<name>-(replicas-1)".
func Plan(statefulSetName string, replicas int32) []string {
	if replicas <= 0 {
		return nil
	}
	members := make([]string, 0, replicas)
	for i := int32(0); i < replicas; i++ {
		members = append(members, PodName(statefulSetName, i))
	}
	return members
}

// PodName returns the name of the StatefulSet member with the given ordinal.
func PodName(statefulSetName string, ordinal int32) string {
	return fmt.Sprintf("%s-%d", statefulSetName, ordinal)
}

// extractOrdinal extracts the ordinal number from a StatefulSet pod name.
// For example, "cluster-kafka-2" returns 2. Names without an ordinal return -1.
func extractOrdinal(podName string) int {
	i := strings.LastIndex(podName, "-")
	if i < 0 {
		return -1
	}
	ordinal, err := strconv.Atoi(podName[i+1:])
	if err != nil || ordinal < 0 {
		return -1
	}
	return ordinal
}
