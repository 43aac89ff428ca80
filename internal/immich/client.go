// Package immich Immich 照片库的 HTTP 客户端：按人物检索资产并下载原图。
package immich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrNoCandidate 没有满足人物约束的候选资产
var ErrNoCandidate = errors.New("no suitable asset found")

// Person 资产上标注的人物
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Asset 检索结果中的资产概要
// People 为 nil 表示检索结果没有内嵌人物信息，需要再查详情
type Asset struct {
	ID     string   `json:"id"`
	People []Person `json:"people"`
}

// Client Immich API 客户端
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  hclog.Logger
}

// NewClient 创建客户端，baseURL 末尾的斜杠会被去掉
func NewClient(baseURL, apiKey string, logger hclog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Named("immich"),
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// SearchCandidates 按人物检索资产
// Immich 的检索是 OR 语义，"包含所有人物"要由调用方再过滤
// 网络错误按空结果处理，不向上抛传输层细节
func (c *Client) SearchCandidates(ctx context.Context, personIDs []string) []Asset {
	payload, err := json.Marshal(map[string]any{
		"personIds": personIDs,
		"withExif":  true,
	})
	if err != nil {
		return nil
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/search/metadata", bytes.NewReader(payload))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("search request failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("search returned non-200", "status", resp.StatusCode)
		return nil
	}

	var result struct {
		Assets struct {
			Items []Asset `json:"items"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Warn("search response decode failed", "error", err)
		return nil
	}
	return result.Assets.Items
}

// FetchAssetDetail 查询资产详情（含人物标注）
func (c *Client) FetchAssetDetail(ctx context.Context, assetID string) (*Asset, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/assets/"+assetID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch asset detail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch asset detail: status %d", resp.StatusCode)
	}

	var asset Asset
	if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
		return nil, fmt.Errorf("fetch asset detail: %w", err)
	}
	return &asset, nil
}

// DownloadOriginal 下载资产原始文件
func (c *Client) DownloadOriginal(ctx context.Context, assetID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/assets/"+assetID+"/original", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download asset %s: %w", assetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download asset %s: status %d", assetID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// FindRandomGroupPhoto 随机找一张包含全部指定人物的照片
//
// 检索结果先洗牌再逐个检查，保证展示有随机性。exclude 里的资产跳过；
// 检索结果缺人物信息时补查详情。找不到返回 ErrNoCandidate。
func (c *Client) FindRandomGroupPhoto(ctx context.Context, personIDs []string, exclude map[string]bool) (*Asset, error) {
	candidates := c.SearchCandidates(ctx, personIDs)
	if len(candidates) == 0 {
		c.logger.Info("no candidates found via search")
		return nil, ErrNoCandidate
	}

	c.logger.Debug("filtering candidates", "count", len(candidates))
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for i := range candidates {
		candidate := candidates[i]
		if exclude[candidate.ID] {
			continue
		}

		people := candidate.People
		if people == nil {
			detail, err := c.FetchAssetDetail(ctx, candidate.ID)
			if err != nil {
				c.logger.Warn("asset detail lookup failed", "assetId", candidate.ID, "error", err)
				continue
			}
			people = detail.People
		}

		if containsAll(people, personIDs) {
			return &candidate, nil
		}
	}
	return nil, ErrNoCandidate
}

// containsAll 资产人物是否覆盖全部要求的人物
func containsAll(people []Person, personIDs []string) bool {
	ids := make(map[string]bool, len(people))
	for _, p := range people {
		ids[p.ID] = true
	}
	for _, id := range personIDs {
		if !ids[id] {
			return false
		}
	}
	return true
}
