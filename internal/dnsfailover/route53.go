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
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
)

// Route53Provider issues idempotent UPSERT change batches against a
// hosted zone, normalizing both the record name and the CNAME target to
// carry a trailing dot as Route53 requires for exact-match comparisons.
type Route53Provider struct {
	client *route53.Client
	zoneID string
}

// NewRoute53Provider loads AWS credentials using the SDK's standard
// discovery chain (environment, shared config, EC2/ECS metadata).
func NewRoute53Provider(ctx context.Context, zoneID string) (*Route53Provider, error) {
	if zoneID == "" {
		return nil, fmt.Errorf("route53 provider requires a hosted zone id")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Route53Provider{client: route53.NewFromConfig(cfg), zoneID: zoneID}, nil
}

func withTrailingDot(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

// UpsertCNAME issues a single UPSERT ChangeResourceRecordSets call.
func (p *Route53Provider) UpsertCNAME(ctx context.Context, recordName, target string, ttl int64) error {
	if ttl <= 0 {
		ttl = 60
	}
	_, err := p.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{
				{
					Action: r53types.ChangeActionUpsert,
					ResourceRecordSet: &r53types.ResourceRecordSet{
						Name: aws.String(withTrailingDot(recordName)),
						Type: r53types.RRTypeCname,
						TTL:  aws.Int64(ttl),
						ResourceRecords: []r53types.ResourceRecord{
							{Value: aws.String(withTrailingDot(target))},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("route53 change_resource_record_sets for %q: %w", recordName, err)
	}
	return nil
}
