package vectorgrpc

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/ragcache/internal/vectorstore"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStructMap converts metadata into values structpb accepts. Nil values
// and nil pointers are dropped.
func toStructMap(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case nil:
		case *int:
			if val != nil {
				out[k] = *val
			}
		case string, bool, int, int32, int64, uint32, uint64, float32, float64:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// fromStructMap restores integral numbers as int so callers see the same
// types they wrote.
func fromStructMap(s *structpb.Struct) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	out := s.AsMap()
	for k, v := range out {
		if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			out[k] = int(f)
		}
	}
	return out
}

func encodeRecords(records []vectorstore.Record) (*structpb.Struct, error) {
	list := make([]any, 0, len(records))
	for _, r := range records {
		list = append(list, map[string]any{
			"id":       r.ID,
			"text":     r.EmbedText,
			"metadata": toStructMap(r.Metadata),
		})
	}
	return structpb.NewStruct(map[string]any{"records": list})
}

func decodeRecords(req *structpb.Struct) ([]vectorstore.Record, error) {
	value, ok := req.GetFields()["records"]
	if !ok {
		return nil, nil
	}
	list := value.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("records must be a list")
	}

	records := make([]vectorstore.Record, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		fields := item.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("record %d must be an object", i)
		}
		records = append(records, vectorstore.Record{
			ID:        fields["id"].GetStringValue(),
			EmbedText: fields["text"].GetStringValue(),
			Metadata:  fromStructMap(fields["metadata"].GetStructValue()),
		})
	}
	return records, nil
}

func encodeQuery(q vectorstore.Query, docsOnly bool) (*structpb.Struct, error) {
	filter := make(map[string]any, len(q.Filter))
	for k, v := range q.Filter {
		filter[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"query":     q.EmbedText,
		"top_k":     q.TopK,
		"docs_only": docsOnly,
		"filter":    filter,
	})
}

func decodeQuery(req *structpb.Struct) (vectorstore.Query, error) {
	fields := req.GetFields()
	q := vectorstore.Query{
		EmbedText: fields["query"].GetStringValue(),
		TopK:      DefaultTopK,
	}
	if v, ok := fields["top_k"]; ok {
		if k := int(v.GetNumberValue()); k > 0 {
			q.TopK = k
		}
	}

	if f := fields["filter"].GetStructValue(); f != nil {
		q.Filter = make(map[string]string, len(f.GetFields()))
		for k, v := range f.GetFields() {
			s, ok := v.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return q, fmt.Errorf("filter %q must be a string", k)
			}
			q.Filter[k] = s.StringValue
		}
	}
	if fields["docs_only"].GetBoolValue() {
		if q.Filter == nil {
			q.Filter = map[string]string{}
		}
		q.Filter[vectorstore.MetaKind] = vectorstore.KindDoc
	}
	return q, nil
}

func encodeHits(hits []vectorstore.Hit) (*structpb.Struct, error) {
	list := make([]any, 0, len(hits))
	for _, h := range hits {
		list = append(list, map[string]any{
			"id":       h.ID,
			"score":    float64(h.Score),
			"metadata": toStructMap(h.Metadata),
		})
	}
	return structpb.NewStruct(map[string]any{"hits": list})
}

func decodeHits(resp *structpb.Struct) []vectorstore.Hit {
	values := resp.GetFields()["hits"].GetListValue().GetValues()
	hits := make([]vectorstore.Hit, 0, len(values))
	for _, item := range values {
		fields := item.GetStructValue().GetFields()
		hits = append(hits, vectorstore.Hit{
			ID:       fields["id"].GetStringValue(),
			Score:    float32(fields["score"].GetNumberValue()),
			Metadata: fromStructMap(fields["metadata"].GetStructValue()),
		})
	}
	return hits
}
