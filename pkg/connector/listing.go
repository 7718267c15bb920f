package connector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
	"github.com/aquasecurity/trivy-java-resolver/pkg/metadata"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
)

// listVersions builds the version listing of (groupID, artifactID) from the HTML
// directory index of remote, for repositories that publish no maven-metadata.xml.
// It writes the result to dst the same way a downloaded listing is stored.
func (c *Connector) listVersions(ctx context.Context, remote repository.Remote, groupID, artifactID, dst string) error {
	url := remote.ListingURL(groupID, artifactID)
	res, err := c.transport.Get(ctx, url)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	d, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return xerrors.Errorf("can't create new goquery doc: %w", err)
	}

	now := c.clock.Now().UTC()
	meta := repository.Metadata{
		GroupID:    groupID,
		ArtifactID: artifactID,
	}
	d.Find("a").Each(func(i int, selection *goquery.Selection) {
		link := linkFromSelection(selection)
		if link == "../" || !strings.HasSuffix(link, "/") {
			// only version directories
			return
		}
		v := strings.TrimSuffix(link, "/")
		if v == "" || strings.ContainsAny(v, "/:?#") || strings.HasPrefix(v, ".") {
			return
		}
		meta.AddVersion(v, now)
	})
	if len(meta.Versioning.Versions) == 0 {
		return xerrors.Errorf("%s: no versions listed", url)
	}

	b, err := meta.Marshal()
	if err != nil {
		return err
	}
	if err = fileutil.WriteFile(dst, b); err != nil {
		return xerrors.Errorf("unable to save %s: %w", dst, err)
	}

	sum := sha1.Sum(b)
	tracking := metadata.New(dst)
	if err = tracking.Update(metadata.Metadata{
		Repository:   remote.ID,
		URL:          url,
		SHA1:         hex.EncodeToString(sum[:]),
		NextUpdate:   now.Add(c.updateInterval),
		DownloadedAt: now,
	}); err != nil {
		c.logger.Warn("Unable to save tracking metadata", slog.String("path", dst), slog.Any("error", err))
	}
	c.logger.Debug("Versions listed from directory index", slog.String("url", url),
		slog.Int("versions", len(meta.Versioning.Versions)))
	return nil
}

func linkFromSelection(selection *goquery.Selection) string {
	link := selection.Text()
	// Central-style indexes shorten long names with a `...` suffix, so href is the reliable one.
	if href, ok := selection.Attr("href"); ok && (strings.HasSuffix(link, ".../") || strings.HasSuffix(link, "...")) {
		link = href
	}
	return link
}
