// Copyright 2025 Edgeo SCADA
//
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

package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bacstack/bacstack/internal/bvll"
)

// S3Client is the subset of the AWS SDK S3 client this package calls,
// narrowed for testability.
type S3Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store persists the BDT as a JSON object in S3-compatible object
// storage, for BBMDs deployed where a shared local filesystem isn't
// available.
type S3Store struct {
	Client S3Client
	Bucket string
	Key    string
}

// Load fetches and parses the backup object. A missing object returns
// an empty table, not an error.
func (s *S3Store) Load() ([]bvll.BDTEntry, error) {
	out, err := s.Client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	var rows []bdtEntryJSON
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}

	entries := make([]bvll.BDTEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, bvll.BDTEntry{
			Address: net.ParseIP(r.Host),
			Port:    r.Port,
			Mask:    net.IPMask(r.Mask[:]),
		})
	}
	return entries, nil
}

// Save overwrites the backup object with entries.
func (s *S3Store) Save(entries []bvll.BDTEntry) error {
	rows := make([]bdtEntryJSON, 0, len(entries))
	for _, e := range entries {
		row := bdtEntryJSON{Host: e.Address.String(), Port: e.Port}
		mask := e.Mask
		if len(mask) == 0 {
			mask = net.CIDRMask(32, 32)
		}
		copy(row.Mask[:], mask)
		rows = append(rows, row)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}

	_, err = s.Client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
		Body:   bytes.NewReader(data),
	})
	return err
}
