/*Package interval implements the genomic-region handling used when
  generating polishing features: region-string parsing, BED region lists,
  and tiling of whole contigs into overlapping work regions.
  It assumes every position fits in a PosType, which is currently defined as
  int32 since that's what BAM files are limited to.
*/
package interval
