package openaiapi

import "strings"

// UserContent 是从一条用户消息里拆出来的文本、图片地址与文件引用。
type UserContent struct {
	Text      string
	ImageURLs []string
	FileIDs   []string
}

// ParseUserContent 解析 OpenAI 消息的 content 字段。
// 支持字符串、text/image_url/file 三种 part；file part 同时接受
// {"type":"file","file_id":"x"} 与 {"type":"file","file":{"file_id"|"id":"x"}}。
func ParseUserContent(content any) UserContent {
	var out UserContent
	switch v := content.(type) {
	case string:
		out.Text = v
	case []any:
		var texts []string
		for _, item := range v {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch stringField(part, "type") {
			case "text":
				if t := stringField(part, "text"); t != "" {
					texts = append(texts, t)
				}
			case "image_url":
				switch img := part["image_url"].(type) {
				case string:
					out.ImageURLs = append(out.ImageURLs, img)
				case map[string]any:
					if u := stringField(img, "url"); u != "" {
						out.ImageURLs = append(out.ImageURLs, u)
					}
				}
			case "file":
				if id := stringField(part, "file_id"); id != "" {
					out.FileIDs = append(out.FileIDs, id)
					continue
				}
				if f, ok := part["file"].(map[string]any); ok {
					id := stringField(f, "file_id")
					if id == "" {
						id = stringField(f, "id")
					}
					if id != "" {
						out.FileIDs = append(out.FileIDs, id)
					}
				}
			}
		}
		out.Text = strings.Join(texts, "\n")
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
