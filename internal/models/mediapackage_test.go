package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMediaPackageID_KnownValue(t *testing.T) {
	// md5("abc") = 900150983cd24fb0d6963f7d28e17f72
	require.Equal(t, "90015098-3cd2-4fb0-d696-3f7d28e17f72", MediaPackageID("abc"))
}

func TestMediaPackageID_DeterministicAndDistinct(t *testing.T) {
	a := MediaPackageID("meeting-uuid-1")
	require.Equal(t, a, MediaPackageID("meeting-uuid-1"))
	require.NotEqual(t, a, MediaPackageID("meeting-uuid-2"))
}

func TestS3Prefix_KnownValue(t *testing.T) {
	require.Equal(t, "900150983cd24fb0d6963f7d28e17f72", S3Prefix("abc"))
}
