package persistence

import (
	"encoding/json"
	"os"
	"path"
	"time"
)

// DataFile describes a file where archival data has been saved.
type DataFile struct {
	// Prefix is the base data directory.
	Prefix string
	// Datatype is the first path component below Prefix.
	Datatype string
	// Subtest distinguishes files of the same datatype.
	Subtest string
	// UUID identifies the archived object.
	UUID string

	// Path is the full path of the file.
	Path string
	// Size is the number of bytes written.
	Size int
}

// WriteDataFile writes a JSON representation of data to a new file under
// datadir/datatype/YYYY/MM/DD/. It fails if the file already exists.
func WriteDataFile(datadir, datatype, subtest, uuid string, data any) (*DataFile, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().UTC()
	dir := path.Join(datadir, datatype, timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	filepath := path.Join(dir, datatype+"-"+subtest+"-"+
		timestamp.Format("20060102T150405.000000000Z")+"."+uuid+".json")
	fp, err := os.OpenFile(filepath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	n, err := fp.Write(b)
	if err != nil {
		fp.Close()
		return nil, err
	}
	if err := fp.Close(); err != nil {
		return nil, err
	}
	return &DataFile{
		Prefix:   datadir,
		Datatype: datatype,
		Subtest:  subtest,
		UUID:     uuid,
		Path:     filepath,
		Size:     n,
	}, nil
}
