package domain

import "time"

// ItemType identifies how an item's bytes are laid out across segments.
type ItemType string

const (
	NzbFileType       ItemType = "nzb_file"       // one segmented file
	RarFileType       ItemType = "rar_file"       // stored member spread over archive volumes
	MultipartFileType ItemType = "multipart_file" // ordered file parts
)

// CheckableTypes lists the item types the health check knows how to verify.
var CheckableTypes = []ItemType{NzbFileType, RarFileType, MultipartFileType}

// FilePart is one unit of a RarFile or MultipartFile. The part's segments
// decode to PartSize bytes; the item's data occupies ByteRange.Count() bytes
// starting at Offset inside that decoded part.
type FilePart struct {
	SegmentIDs []string  `json:"segment_ids" dynamodbav:"segment_ids"`
	PartSize   int64     `json:"part_size" dynamodbav:"part_size"`
	Offset     int64     `json:"offset" dynamodbav:"offset"`
	ByteRange  ByteRange `json:"byte_range" dynamodbav:"byte_range"` // position within the logical item
}

// Item - a stored file whose content lives in remote segments
type Item struct {
	ID              string     `json:"id" dynamodbav:"id"` // Partition Key
	Name            string     `json:"name" dynamodbav:"name"`
	Path            string     `json:"path" dynamodbav:"path"`
	Type            ItemType   `json:"type" dynamodbav:"type"`
	FileSize        int64      `json:"file_size" dynamodbav:"file_size"`
	SegmentIDs      []string   `json:"segment_ids,omitempty" dynamodbav:"segment_ids,omitempty"` // NzbFile only
	Parts           []FilePart `json:"parts,omitempty" dynamodbav:"parts,omitempty"`             // RarFile and MultipartFile
	ReleaseDate     *time.Time `json:"release_date,omitempty" dynamodbav:"release_date,omitempty"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty" dynamodbav:"last_health_check,omitempty"`
	NextHealthCheck *time.Time `json:"next_health_check,omitempty" dynamodbav:"next_health_check,omitempty"`
}

// AllSegmentIDs returns every segment id the item depends on, in read order.
func (i Item) AllSegmentIDs() []string {
	switch i.Type {
	case NzbFileType:
		return append([]string(nil), i.SegmentIDs...)
	case RarFileType, MultipartFileType:
		var ids []string
		for _, part := range i.Parts {
			ids = append(ids, part.SegmentIDs...)
		}
		return ids
	default:
		return nil
	}
}

// IsCheckable reports whether the item type takes part in health checks.
func (i Item) IsCheckable() bool {
	for _, t := range CheckableTypes {
		if i.Type == t {
			return true
		}
	}
	return false
}

// IsDue reports whether the item needs a health check at now.
func (i Item) IsDue(now time.Time) bool {
	return i.NextHealthCheck == nil || i.NextHealthCheck.Before(now)
}
