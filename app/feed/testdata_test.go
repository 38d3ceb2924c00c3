package feed

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Example RSS</title>
  <link>https://example.com/</link>
  <description>Example channel</description>
  <atom:link rel="hub" href="https://hub.example.com/"/>
  <atom:link rel="self" href="https://example.com/rss.xml" type="application/rss+xml"/>
  <item>
    <title>One</title>
    <link>https://example.com/1</link>
    <guid>guid-1</guid>
    <description>Desc 1</description>
    <pubDate>Mon, 01 Jan 2024 00:00:00 GMT</pubDate>
    <dc:creator>Bob</dc:creator>
  </item>
  <item>
    <title>Two</title>
    <link>https://example.com/2</link>
  </item>
  <item>
    <description>Only a description</description>
  </item>
</channel>
</rss>`

const testPlainRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Plain RSS</title>
  <link>https://example.com/</link>
  <item>
    <title>Plain</title>
    <link>https://example.com/plain</link>
    <guid>plain-1</guid>
  </item>
</channel>
</rss>`

const testAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Atom</title>
  <link rel="self" href="https://example.com/atom.xml"/>
  <link rel="hub" href="https://hub.example.com/atom"/>
  <link href="https://example.com/"/>
  <id>urn:uuid:feed</id>
  <updated>2024-01-02T00:00:00Z</updated>
  <entry>
    <title>First</title>
    <link href="https://example.com/a1"/>
    <id>urn:uuid:1</id>
    <updated>2024-01-02T00:00:00Z</updated>
    <summary>First summary</summary>
    <author><name>Alice</name></author>
  </entry>
</feed>`

const testJSONFeed = `{
  "version": "https://jsonfeed.org/version/1.1",
  "title": "JSON Feed",
  "items": [
    {"id": "j1", "url": "https://example.com/j1", "title": "J1", "content_text": "hello"}
  ]
}`
