package uci

import (
	"strconv"
	"strings"
)

const mateScoreCP = 30000

// searchInfo is the part of an "info" line the match cares about: the
// score from the mover's point of view and the search depth.
type searchInfo struct {
	ScoreCP  int
	HasScore bool
	Depth    int
}

func parseInfo(line string) (searchInfo, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "info" {
		return searchInfo{}, false
	}
	var si searchInfo
	found := false
	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					si.Depth = v
					found = true
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				val := parts[i+2]
				switch parts[i+1] {
				case "cp":
					if v, err := strconv.Atoi(val); err == nil {
						si.ScoreCP = v
						si.HasScore = true
						found = true
					}
				case "mate":
					if v, err := strconv.Atoi(val); err == nil {
						si.ScoreCP = mateScoreCP
						if v < 0 {
							si.ScoreCP = -mateScoreCP
						}
						si.HasScore = true
						found = true
					}
				}
				i += 2
			}
		}
	}
	return si, found
}

// optionDecl is one "option name ... type ..." declaration from the
// handshake. Vars carries the allowed values of combo options.
type optionDecl struct {
	Name string
	Vars []string
}

func parseOptionDeclaration(line string) (optionDecl, bool) {
	parts := strings.Fields(line)
	if len(parts) < 3 || parts[0] != "option" || parts[1] != "name" {
		return optionDecl{}, false
	}
	var decl optionDecl
	nameEnd := len(parts)
	for i := 2; i < len(parts); i++ {
		if parts[i] == "type" {
			nameEnd = i
			break
		}
	}
	decl.Name = strings.Join(parts[2:nameEnd], " ")
	if decl.Name == "" {
		return optionDecl{}, false
	}
	for i := nameEnd; i < len(parts)-1; i++ {
		if parts[i] == "var" {
			decl.Vars = append(decl.Vars, parts[i+1])
			i++
		}
	}
	return decl, true
}

func parseIDName(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "id name ")
	if !ok {
		return "", false
	}
	name := strings.TrimSpace(rest)
	return name, name != ""
}

func parseBestmove(line string) (string, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 || parts[0] != "bestmove" {
		return "", false
	}
	return parts[1], true
}
