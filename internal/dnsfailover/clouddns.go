// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dnsfailover

import (
	"context"
	"fmt"

	dns "google.golang.org/api/dns/v1"
)

// CloudDNSProvider issues a record-set swap as a single atomic Changes.Create
// call against a managed zone.
type CloudDNSProvider struct {
	service   *dns.Service
	projectID string
	zoneName  string
}

// NewCloudDNSProvider builds a client using application-default credentials,
// consistent with the rest of this codebase's Google API usage.
func NewCloudDNSProvider(ctx context.Context, projectID, zoneName string) (*CloudDNSProvider, error) {
	if projectID == "" || zoneName == "" {
		return nil, fmt.Errorf("cloud dns provider requires a project id and zone name")
	}
	svc, err := dns.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("build cloud dns service: %w", err)
	}
	return &CloudDNSProvider{service: svc, projectID: projectID, zoneName: zoneName}, nil
}

// UpsertCNAME deletes the existing record set for recordName (if any)
// and adds the new one in the same change, mirroring Cloud DNS's
// all-or-nothing Changes.Create semantics.
func (p *CloudDNSProvider) UpsertCNAME(ctx context.Context, recordName, target string, ttl int64) error {
	if ttl <= 0 {
		ttl = 60
	}
	fqdn := withTrailingDot(recordName)

	change := &dns.Change{
		Additions: []*dns.ResourceRecordSet{
			{
				Name:    fqdn,
				Type:    "CNAME",
				Ttl:     ttl,
				Rrdatas: []string{withTrailingDot(target)},
			},
		},
	}

	existing, err := p.service.ResourceRecordSets.List(p.projectID, p.zoneName).Name(fqdn).Type("CNAME").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("list existing cloud dns record %q: %w", recordName, err)
	}
	change.Deletions = existing.Rrsets

	_, err = p.service.Changes.Create(p.projectID, p.zoneName, change).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("cloud dns changes.create for %q: %w", recordName, err)
	}
	return nil
}
