package store

import (
	"github.com/bytedance/sonic"

	"github.com/hoodinformatik/openthreat/internal/model"
)

func marshalSourceTags(tags map[model.Source]string) (string, error) {
	data, err := sonic.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func articleToRow(a *model.Article) (ArticleRow, error) {
	categoriesJSON, err := sonic.Marshal(a.Categories)
	if err != nil {
		return ArticleRow{}, err
	}
	relatedJSON, err := sonic.Marshal(a.RelatedCVEs)
	if err != nil {
		return ArticleRow{}, err
	}
	keyPointsJSON, err := sonic.Marshal(a.LLMKeyPoints)
	if err != nil {
		return ArticleRow{}, err
	}
	return ArticleRow{
		SourceID:         a.SourceID,
		Title:            a.Title,
		URL:              a.URL,
		Author:           a.Author,
		Summary:          a.Summary,
		PublishedAt:      a.PublishedAt,
		FetchedAt:        a.FetchedAt,
		CategoriesJSON:   string(categoriesJSON),
		RelatedCVEsJSON:  string(relatedJSON),
		LLMSummary:       a.LLMSummary,
		LLMKeyPointsJSON: string(keyPointsJSON),
		LLMRelevance:     a.LLMRelevance,
		LLMProcessed:     a.LLMProcessed,
	}, nil
}

func articleFromRow(r *ArticleRow) (model.Article, error) {
	var categories, related, keyPoints []string
	if r.CategoriesJSON != "" {
		if err := sonic.UnmarshalString(r.CategoriesJSON, &categories); err != nil {
			return model.Article{}, err
		}
	}
	if r.RelatedCVEsJSON != "" {
		if err := sonic.UnmarshalString(r.RelatedCVEsJSON, &related); err != nil {
			return model.Article{}, err
		}
	}
	if r.LLMKeyPointsJSON != "" {
		if err := sonic.UnmarshalString(r.LLMKeyPointsJSON, &keyPoints); err != nil {
			return model.Article{}, err
		}
	}
	return model.Article{
		SourceID:     r.SourceID,
		Title:        r.Title,
		URL:          r.URL,
		Author:       r.Author,
		Summary:      r.Summary,
		PublishedAt:  r.PublishedAt,
		FetchedAt:    r.FetchedAt,
		Categories:   categories,
		RelatedCVEs:  related,
		LLMSummary:   r.LLMSummary,
		LLMKeyPoints: keyPoints,
		LLMRelevance: r.LLMRelevance,
		LLMProcessed: r.LLMProcessed,
	}, nil
}

func ingestionRunToRow(r *model.IngestionRun) (IngestionRunRow, error) {
	configJSON, err := sonic.Marshal(r.Config)
	if err != nil {
		return IngestionRunRow{}, err
	}
	return IngestionRunRow{
		ID:           r.ID,
		JobName:      r.JobName,
		Source:       string(r.Source),
		Status:       string(r.Status),
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		Fetched:      r.Counts.Fetched,
		Inserted:     r.Counts.Inserted,
		Updated:      r.Counts.Updated,
		Failed:       r.Counts.Failed,
		ErrorMessage: r.ErrorMessage,
		ConfigJSON:   string(configJSON),
	}, nil
}

func ingestionRunFromRow(r *IngestionRunRow) (model.IngestionRun, error) {
	var cfg map[string]any
	if r.ConfigJSON != "" {
		if err := sonic.UnmarshalString(r.ConfigJSON, &cfg); err != nil {
			return model.IngestionRun{}, err
		}
	}
	return model.IngestionRun{
		ID:           r.ID,
		JobName:      r.JobName,
		Source:       model.Source(r.Source),
		Status:       model.IngestionRunStatus(r.Status),
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		Counts: model.IngestionRunCounts{
			Fetched: r.Fetched, Inserted: r.Inserted, Updated: r.Updated, Failed: r.Failed,
		},
		ErrorMessage: r.ErrorMessage,
		Config:       cfg,
	}, nil
}

func toRow(v *model.Vulnerability) (VulnerabilityRow, error) {
	cweJSON, err := sonic.Marshal(v.CWEIDs)
	if err != nil {
		return VulnerabilityRow{}, err
	}
	vendorsJSON, err := sonic.Marshal(v.Vendors)
	if err != nil {
		return VulnerabilityRow{}, err
	}
	productsJSON, err := sonic.Marshal(v.Products)
	if err != nil {
		return VulnerabilityRow{}, err
	}
	affectedJSON, err := sonic.Marshal(v.AffectedProducts)
	if err != nil {
		return VulnerabilityRow{}, err
	}
	refsJSON, err := sonic.Marshal(v.References)
	if err != nil {
		return VulnerabilityRow{}, err
	}
	sourcesJSON, err := sonic.Marshal(v.Sources)
	if err != nil {
		return VulnerabilityRow{}, err
	}
	tagsJSON, err := sonic.Marshal(v.SourceTags)
	if err != nil {
		return VulnerabilityRow{}, err
	}

	return VulnerabilityRow{
		CVEID:                v.CVEID,
		Title:                v.Title,
		Description:          v.Description,
		CVSSScore:            v.CVSSScore,
		CVSSVector:           v.CVSSVector,
		Severity:             string(v.Severity),
		PublishedAt:          v.PublishedAt,
		ModifiedAt:           v.ModifiedAt,
		ExploitedInTheWild:   v.ExploitedInTheWild,
		CISADueDate:          v.CISADueDate,
		CWEIDsJSON:           string(cweJSON),
		VendorsJSON:          string(vendorsJSON),
		ProductsJSON:         string(productsJSON),
		AffectedProductsJSON: string(affectedJSON),
		ReferencesJSON:       string(refsJSON),
		SourcesJSON:          string(sourcesJSON),
		SourceTagsJSON:       string(tagsJSON),
		PriorityScore:        v.PriorityScore,
		SimpleTitle:          v.SimpleTitle,
		SimpleDescription:    v.SimpleDescription,
		LLMProcessed:         v.LLMProcessed,
		LLMProcessedAt:       v.LLMProcessedAt,
		CreatedAt:            v.CreatedAt,
		UpdatedAt:            v.UpdatedAt,
	}, nil
}

func fromRow(r *VulnerabilityRow) (model.Vulnerability, error) {
	var cweIDs, vendors, products, affected []string
	var refs []model.Reference
	var sources []model.Source
	tags := map[model.Source]string{}

	if r.CWEIDsJSON != "" {
		if err := sonic.UnmarshalString(r.CWEIDsJSON, &cweIDs); err != nil {
			return model.Vulnerability{}, err
		}
	}
	if r.VendorsJSON != "" {
		if err := sonic.UnmarshalString(r.VendorsJSON, &vendors); err != nil {
			return model.Vulnerability{}, err
		}
	}
	if r.ProductsJSON != "" {
		if err := sonic.UnmarshalString(r.ProductsJSON, &products); err != nil {
			return model.Vulnerability{}, err
		}
	}
	if r.AffectedProductsJSON != "" {
		if err := sonic.UnmarshalString(r.AffectedProductsJSON, &affected); err != nil {
			return model.Vulnerability{}, err
		}
	}
	if r.ReferencesJSON != "" {
		if err := sonic.UnmarshalString(r.ReferencesJSON, &refs); err != nil {
			return model.Vulnerability{}, err
		}
	}
	if r.SourcesJSON != "" {
		if err := sonic.UnmarshalString(r.SourcesJSON, &sources); err != nil {
			return model.Vulnerability{}, err
		}
	}
	if r.SourceTagsJSON != "" {
		if err := sonic.UnmarshalString(r.SourceTagsJSON, &tags); err != nil {
			return model.Vulnerability{}, err
		}
	}

	return model.Vulnerability{
		CVEID:              r.CVEID,
		Title:              r.Title,
		Description:        r.Description,
		CVSSScore:          r.CVSSScore,
		CVSSVector:         r.CVSSVector,
		Severity:           model.Severity(r.Severity),
		PublishedAt:        r.PublishedAt,
		ModifiedAt:         r.ModifiedAt,
		ExploitedInTheWild: r.ExploitedInTheWild,
		CISADueDate:        r.CISADueDate,
		CWEIDs:             cweIDs,
		Vendors:            vendors,
		Products:           products,
		AffectedProducts:   affected,
		References:         refs,
		Sources:            sources,
		SourceTags:         tags,
		PriorityScore:      r.PriorityScore,
		SimpleTitle:        r.SimpleTitle,
		SimpleDescription:  r.SimpleDescription,
		LLMProcessed:       r.LLMProcessed,
		LLMProcessedAt:     r.LLMProcessedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}, nil
}
