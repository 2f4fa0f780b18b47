package models

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/google/uuid"
)

// S3Prefix returns the object-store prefix for a recording's files. It is a
// pure function of the meeting uuid so the downloader and uploader agree on
// the layout without coordination.
func S3Prefix(meetingUUID string) string {
	sum := md5.Sum([]byte(meetingUUID))
	return hex.EncodeToString(sum[:])
}

// MediaPackageID derives the stable Opencast media package id for a meeting
// uuid: the md5 of the uuid rendered as a UUID string. The same meeting uuid
// always yields the same id, which makes it usable as the idempotency key
// for re-ingest checks.
func MediaPackageID(meetingUUID string) string {
	sum := md5.Sum([]byte(meetingUUID))
	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		// md5 always yields 16 bytes; FromBytes cannot fail on them
		panic(err)
	}
	return id.String()
}
